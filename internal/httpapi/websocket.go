package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"wordle/server/internal/leaderboard"
	"wordle/server/internal/logging"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxInboundSize = 512
	sendBuffer     = 8
)

var errFeedClosed = errors.New("httpapi: websocket subscriber closed")

// FeedOptions configures a Feed.
type FeedOptions struct {
	Logger *logging.Logger
	// AllowedOrigins lists accepted Origin values. "*" accepts any origin;
	// an empty list accepts only same-host requests.
	AllowedOrigins []string
	Limiter        RateLimiter
	PingPeriod     time.Duration
	PongWait       time.Duration
}

// Feed upgrades browsers to WebSocket leaderboard subscribers.
type Feed struct {
	hub        Hub
	logger     *logging.Logger
	limiter    RateLimiter
	upgrader   websocket.Upgrader
	pingPeriod time.Duration
	pongWait   time.Duration
}

// NewFeed builds a Feed bound to hub.
func NewFeed(hub Hub, opts FeedOptions) *Feed {
	logger := opts.Logger
	if logger == nil {
		logger = logging.L()
	}
	f := &Feed{
		hub:        hub,
		logger:     logger.With(logging.String("handler", "ws_leaderboard")),
		limiter:    opts.Limiter,
		pingPeriod: opts.PingPeriod,
		pongWait:   opts.PongWait,
	}
	if f.pongWait <= 0 {
		f.pongWait = pongWait
	}
	if f.pingPeriod <= 0 || f.pingPeriod >= f.pongWait {
		f.pingPeriod = (f.pongWait * 9) / 10
	}
	f.upgrader = websocket.Upgrader{CheckOrigin: originChecker(opts.AllowedOrigins)}
	return f
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		origin = strings.ToLower(strings.TrimRight(strings.TrimSpace(origin), "/"))
		if origin == "*" {
			return func(*http.Request) bool { return true }
		}
		if origin != "" {
			set[origin] = struct{}{}
		}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil || u.Host == "" {
			return false
		}
		_, ok := set[strings.ToLower(u.Scheme+"://"+u.Host)]
		return ok
	}
}

// ServeHTTP implements http.Handler.
func (f *Feed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqLogger := f.logger.With(logging.String("remote_addr", r.RemoteAddr))
	if f.limiter != nil && !f.limiter.Allow() {
		reqLogger.Warn("websocket upgrade denied: rate limit exceeded")
		http.Error(w, "too many requests", http.StatusTooManyRequests)
		return
	}
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		reqLogger.Warn("websocket upgrade failed", logging.Error(err))
		return
	}

	sub := &wsSubscriber{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []leaderboard.Entry, sendBuffer),
		done: make(chan struct{}),
	}
	logger := reqLogger.With(logging.String("subscriber", sub.id))

	//1.- Seed the browser with the current standings before live pushes.
	sub.send <- f.hub.Snapshot()
	f.hub.Subscribe(sub)
	logger.Info("websocket subscriber connected")

	go f.writePump(sub, logger)
	f.readPump(sub)

	f.hub.Unsubscribe(sub.id)
	sub.close()
	logger.Info("websocket subscriber disconnected")
}

// readPump discards inbound messages and keeps the pong deadline fresh.
func (f *Feed) readPump(sub *wsSubscriber) {
	sub.conn.SetReadLimit(maxInboundSize)
	_ = sub.conn.SetReadDeadline(time.Now().Add(f.pongWait))
	sub.conn.SetPongHandler(func(string) error {
		return sub.conn.SetReadDeadline(time.Now().Add(f.pongWait))
	})
	for {
		if _, _, err := sub.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (f *Feed) writePump(sub *wsSubscriber, logger *logging.Logger) {
	ticker := time.NewTicker(f.pingPeriod)
	defer func() {
		ticker.Stop()
		sub.conn.Close()
	}()
	for {
		select {
		case <-sub.done:
			_ = sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = sub.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case entries := <-sub.send:
			payload, err := json.Marshal(feedMessage{Type: "leaderboard", Entries: standings(entries)})
			if err != nil {
				logger.Error("encode leaderboard push", logging.Error(err))
				continue
			}
			_ = sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sub.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				logger.Debug("websocket write failed", logging.Error(err))
				sub.close()
				return
			}
		case <-ticker.C:
			_ = sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sub.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				sub.close()
				return
			}
		}
	}
}

type feedMessage struct {
	Type    string `json:"type"`
	Entries any    `json:"entries"`
}

type wsSubscriber struct {
	id        string
	conn      *websocket.Conn
	send      chan []leaderboard.Entry
	done      chan struct{}
	closeOnce sync.Once
}

func (s *wsSubscriber) ID() string { return s.id }

// UpdateLeaderboard queues entries for the write pump.
func (s *wsSubscriber) UpdateLeaderboard(ctx context.Context, entries []leaderboard.Entry) error {
	select {
	case <-s.done:
		return errFeedClosed
	default:
	}
	select {
	case s.send <- entries:
		return nil
	case <-s.done:
		return errFeedClosed
	case <-ctx.Done():
		s.close()
		return ctx.Err()
	}
}

func (s *wsSubscriber) close() {
	s.closeOnce.Do(func() { close(s.done) })
}
