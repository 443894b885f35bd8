// Package httpapi serves operational probes, a JSON leaderboard and the
// browser leaderboard feed.
package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/samber/lo"

	"wordle/server/internal/fanout"
	"wordle/server/internal/leaderboard"
	"wordle/server/internal/logging"
	"wordle/server/internal/protocol"
)

// maxTopQuery caps ?top= on the leaderboard endpoint.
const maxTopQuery = 1000

// ReadinessProvider exposes server state required for readiness checks.
type ReadinessProvider interface {
	Uptime() time.Duration
	Connections() int64
	Subscribers() int
	// CurrentGameID is zero until the first secret word is active.
	CurrentGameID() int64
}

// Ranking is the read side of the leaderboard.
type Ranking interface {
	Top(k int) []leaderboard.Entry
	All() []leaderboard.Entry
}

// Hub is the subscriber set fed by leaderboard changes.
type Hub interface {
	Subscribe(sub fanout.Subscriber)
	Unsubscribe(id string) bool
	Snapshot() []leaderboard.Entry
}

// RateLimiter gates how frequently sensitive operations may be invoked.
type RateLimiter interface {
	Allow() bool
}

// Options configures the HandlerSet.
type Options struct {
	Logger         *logging.Logger
	Readiness      ReadinessProvider
	Ranking        Ranking
	Hub            Hub
	AllowedOrigins []string
	// UpgradeLimiter throttles WebSocket upgrades.
	UpgradeLimiter RateLimiter
	TimeSource     func() time.Time
}

// HandlerSet bundles the HTTP handlers.
type HandlerSet struct {
	logger    *logging.Logger
	readiness ReadinessProvider
	ranking   Ranking
	feed      *Feed
	now       func() time.Time
}

// NewHandlerSet constructs a HandlerSet using the provided options.
func NewHandlerSet(opts Options) *HandlerSet {
	logger := opts.Logger
	if logger == nil {
		logger = logging.L()
	}
	now := opts.TimeSource
	if now == nil {
		now = time.Now
	}
	h := &HandlerSet{
		logger:    logger.With(logging.String("component", "http")),
		readiness: opts.Readiness,
		ranking:   opts.Ranking,
		now:       now,
	}
	if opts.Hub != nil {
		h.feed = NewFeed(opts.Hub, FeedOptions{
			Logger:         h.logger,
			AllowedOrigins: opts.AllowedOrigins,
			Limiter:        opts.UpgradeLimiter,
		})
	}
	return h
}

// Register attaches all handlers to the provided mux.
func (h *HandlerSet) Register(mux *http.ServeMux) {
	if mux == nil {
		return
	}
	mux.HandleFunc("GET /healthz", h.LivenessHandler())
	mux.HandleFunc("GET /readyz", h.ReadinessHandler())
	mux.HandleFunc("GET /api/leaderboard", h.LeaderboardHandler())
	if h.feed != nil {
		mux.Handle("GET /ws/leaderboard", h.feed)
	}
}

// Handler returns a mux carrying every route.
func (h *HandlerSet) Handler() http.Handler {
	mux := http.NewServeMux()
	h.Register(mux)
	return mux
}

// LivenessHandler reports that the HTTP server is reachable.
func (h *HandlerSet) LivenessHandler() http.HandlerFunc {
	type response struct {
		Status    string `json:"status"`
		Timestamp string `json:"timestamp"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, response{
			Status:    "alive",
			Timestamp: h.now().UTC().Format(time.RFC3339Nano),
		})
	}
}

// ReadinessHandler reports 503 until a secret word is active.
func (h *HandlerSet) ReadinessHandler() http.HandlerFunc {
	type response struct {
		Status        string  `json:"status"`
		Message       string  `json:"message,omitempty"`
		UptimeSeconds float64 `json:"uptime_seconds"`
		Connections   int64   `json:"connections"`
		Subscribers   int     `json:"subscribers"`
		GameID        int64   `json:"game_id"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		resp := response{Status: "ok"}
		if h.readiness != nil {
			resp.UptimeSeconds = h.readiness.Uptime().Seconds()
			resp.Connections = h.readiness.Connections()
			resp.Subscribers = h.readiness.Subscribers()
			resp.GameID = h.readiness.CurrentGameID()
			if resp.GameID == 0 {
				status = http.StatusServiceUnavailable
				resp.Status = "starting"
				resp.Message = "no secret word active yet"
			}
		}
		writeJSON(w, status, resp)
	}
}

// LeaderboardHandler returns the ranking as JSON. ?top=k limits the rows.
func (h *HandlerSet) LeaderboardHandler() http.HandlerFunc {
	type response struct {
		Entries []protocol.Standing `json:"entries"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if h.ranking == nil {
			http.Error(w, "leaderboard unavailable", http.StatusServiceUnavailable)
			return
		}
		var entries []leaderboard.Entry
		if raw := r.URL.Query().Get("top"); raw != "" {
			k, err := strconv.Atoi(raw)
			if err != nil || k <= 0 || k > maxTopQuery {
				http.Error(w, "top must be an integer between 1 and 1000", http.StatusBadRequest)
				return
			}
			entries = h.ranking.Top(k)
		} else {
			entries = h.ranking.All()
		}
		writeJSON(w, http.StatusOK, response{Entries: standings(entries)})
	}
}

func standings(entries []leaderboard.Entry) []protocol.Standing {
	return lo.Map(entries, func(e leaderboard.Entry, _ int) protocol.Standing {
		return protocol.Standing{Username: e.Username, Score: e.Score}
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	_ = json.NewEncoder(w).Encode(payload)
}
