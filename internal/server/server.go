// Package server accepts game connections, frames their byte streams and
// funnels every complete frame through one session loop goroutine.
package server

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"wordle/server/internal/logging"
	"wordle/server/internal/protocol"
	"wordle/server/internal/session"
	"wordle/server/internal/translate"
)

const (
	// DefaultIdleTimeout closes connections that stay silent this long.
	DefaultIdleTimeout = 10 * time.Minute
	// DefaultWriteTimeout bounds a single response write.
	DefaultWriteTimeout = 10 * time.Second

	readChunkBytes = 4096
)

// ErrServerClosed is returned by Serve after Shutdown.
var ErrServerClosed = errors.New("server: closed")

// Option customises a Server.
type Option func(*Server)

// WithMaxFrameBytes caps inbound frame payloads.
func WithMaxFrameBytes(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxFrame = n
		}
	}
}

// WithIdleTimeout sets the read deadline applied before every read. Zero
// disables it.
func WithIdleTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d >= 0 {
			s.idle = d
		}
	}
}

// WithTranslator sets the translation collaborator used on finished rounds.
func WithTranslator(t translate.Translator) Option {
	return func(s *Server) {
		if t != nil {
			s.translator = t
		}
	}
}

// WithLogger attaches a structured logger.
func WithLogger(logger *logging.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

type opKind int

const (
	opFrame opKind = iota
	opClose
)

// op is one unit of session work executed on the loop goroutine.
type op struct {
	kind  opKind
	sess  *session.Session
	frame []byte
	done  chan opResult
}

type opResult struct {
	reply session.Reply
	err   error
}

// Server owns the listener and all client connections.
type Server struct {
	deps       *session.Deps
	translator translate.Translator
	logger     *logging.Logger
	maxFrame   int
	idle       time.Duration

	ops      chan op
	loopDone chan struct{}
	loopOnce sync.Once

	mu       sync.Mutex
	listener net.Listener
	conns    map[*conn]struct{}
	closing  bool
	wg       sync.WaitGroup

	active atomic.Int64
	served atomic.Int64
}

// New builds a server that drives sessions with deps.
func New(deps *session.Deps, opts ...Option) *Server {
	s := &Server{
		deps:       deps,
		translator: translate.Nop{},
		logger:     logging.L(),
		maxFrame:   protocol.MaxFrameBytes,
		idle:       DefaultIdleTimeout,
		ops:        make(chan op),
		loopDone:   make(chan struct{}),
		conns:      make(map[*conn]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(logging.String("component", "tcp"))
	return s
}

// ActiveConnections returns the number of open client connections.
func (s *Server) ActiveConnections() int64 { return s.active.Load() }

// Serve accepts connections on ln until Shutdown is called or ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return ErrServerClosed
	}
	s.listener = ln
	s.mu.Unlock()

	s.loopOnce.Do(func() { go s.loop() })
	stop := context.AfterFunc(ctx, func() { _ = s.Shutdown(context.Background()) })
	defer stop()

	s.logger.Info("accepting game connections", logging.String("addr", ln.Addr().String()))
	for {
		nc, err := ln.Accept()
		if err != nil {
			s.mu.Lock()
			closing := s.closing
			s.mu.Unlock()
			if closing {
				return ErrServerClosed
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				time.Sleep(50 * time.Millisecond)
				continue
			}
			return err
		}
		c := s.track(nc)
		if c == nil {
			nc.Close()
			continue
		}
		go s.serveConn(ctx, c)
	}
}

func (s *Server) track(nc net.Conn) *conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return nil
	}
	id := uuid.NewString()
	c := &conn{
		id:      id,
		nc:      nc,
		decoder: protocol.NewFrameDecoder(s.maxFrame),
		logger:  s.logger.With(logging.String("conn", id), logging.String("remote", nc.RemoteAddr().String())),
	}
	c.sess = session.New(s.deps, c.logger)
	s.conns[c] = struct{}{}
	s.wg.Add(1)
	s.active.Add(1)
	s.served.Add(1)
	return c
}

func (s *Server) untrack(c *conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
	s.active.Add(-1)
	s.wg.Done()
}

// loop runs every session call serially.
func (s *Server) loop() {
	for {
		select {
		case <-s.loopDone:
			return
		case o := <-s.ops:
			var res opResult
			switch o.kind {
			case opFrame:
				res.reply, res.err = o.sess.Handle(o.frame)
			case opClose:
				o.sess.Close()
			}
			o.done <- res
		}
	}
}

func (s *Server) submit(o op) opResult {
	o.done = make(chan opResult, 1)
	s.ops <- o
	return <-o.done
}

func (s *Server) serveConn(ctx context.Context, c *conn) {
	defer s.untrack(c)
	defer c.nc.Close()
	defer s.submit(op{kind: opClose, sess: c.sess})

	c.logger.Debug("connection opened")
	buf := make([]byte, readChunkBytes)
	for {
		//1.- Wait for bytes under the idle deadline.
		if s.idle > 0 {
			_ = c.nc.SetReadDeadline(time.Now().Add(s.idle))
		}
		n, err := c.nc.Read(buf)
		if n > 0 {
			_, _ = c.decoder.Write(buf[:n])
		}

		//2.- Dispatch every complete frame in arrival order.
		for {
			frame, ferr := c.decoder.Next()
			if ferr != nil {
				c.logger.Warn("closing connection on oversized frame", logging.Error(ferr))
				return
			}
			if frame == nil {
				break
			}
			res := s.submit(op{kind: opFrame, sess: c.sess, frame: frame})
			if res.err != nil {
				c.logger.Warn("closing connection on malformed frame", logging.Error(res.err))
				return
			}
			if werr := s.respond(ctx, c, res.reply); werr != nil {
				c.logger.Warn("write failed", logging.Error(werr))
				return
			}
		}

		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				c.logger.Debug("peer closed connection")
			case errors.Is(err, os.ErrDeadlineExceeded):
				c.logger.Info("closing idle connection", logging.Duration("idle", s.idle))
			case errors.Is(err, net.ErrClosed):
			default:
				c.logger.Warn("read failed", logging.Error(err))
			}
			return
		}
	}
}

// respond appends the translation, when requested, and writes the frame.
// Translation runs here so the session loop never waits on the network.
func (s *Server) respond(ctx context.Context, c *conn, reply session.Reply) error {
	payload := reply.Payload
	if reply.Translate != "" {
		if text := s.translator.Translate(ctx, reply.Translate); text != "" {
			payload = append(payload, text...)
		}
	}
	_ = c.nc.SetWriteDeadline(time.Now().Add(DefaultWriteTimeout))
	return protocol.WriteFrame(c.nc, payload)
}

// Shutdown stops accepting, closes every connection so in-flight rounds are
// scored, waits for their goroutines, then stops the loop.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		select {
		case <-s.loopDone:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.closing = true
	ln := s.listener
	for c := range s.conns {
		_ = c.nc.Close()
	}
	s.mu.Unlock()

	var err error
	if ln != nil {
		err = ln.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.loopOnce.Do(func() {})
	close(s.loopDone)
	s.logger.Info("game server stopped", logging.Int64("connections_served", s.served.Load()))
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}
	return err
}

type conn struct {
	id      string
	nc      net.Conn
	decoder *protocol.FrameDecoder
	sess    *session.Session
	logger  *logging.Logger
}
