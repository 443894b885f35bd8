package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
	"google.golang.org/grpc"

	"wordle/server/internal/config"
	"wordle/server/internal/fanout"
	"wordle/server/internal/httpapi"
	"wordle/server/internal/leaderboard"
	"wordle/server/internal/logging"
	"wordle/server/internal/persistence"
	"wordle/server/internal/registry"
	"wordle/server/internal/rpc"
	"wordle/server/internal/scheduler"
	"wordle/server/internal/server"
	"wordle/server/internal/session"
	"wordle/server/internal/translate"
	"wordle/server/internal/words"
)

const shutdownTimeout = 15 * time.Second

// app owns every long-lived component of the process.
type app struct {
	cfg     *config.Config
	logger  *logging.Logger
	started time.Time

	registry  *registry.Registry
	board     *leaderboard.Board
	sched     *scheduler.Scheduler
	notifier  *fanout.Notifier
	multicast *fanout.Multicaster
	snapshots *persistence.Snapshotter

	game       *server.Server
	grpcServer *grpc.Server
	control    *rpc.Service
	httpServer *http.Server

	tcpLn  net.Listener
	grpcLn net.Listener
	httpLn net.Listener
}

// newApp restores persisted state and builds every component without
// opening any listener.
func newApp(cfg *config.Config, logger *logging.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger, started: time.Now()}

	//1.- Restore accounts and the game counter from the snapshot.
	state, err := persistence.Load(cfg.StatePath)
	if err != nil {
		return nil, err
	}
	records := state.Records()
	a.registry = registry.New()
	a.registry.Restore(records)
	a.board = seedLeaderboard(records)
	logger.Info("state restored",
		logging.String("path", cfg.StatePath),
		logging.Int("accounts", len(records)),
		logging.Int("ranked", a.board.Len()),
		logging.Int64("last_game_id", state.LastGameID),
	)

	//2.- Word rotation resumes numbering where the snapshot left off.
	dict, err := words.Load(cfg.WordsPath, cfg.AcceptedWordsPath)
	if err != nil {
		return nil, err
	}
	a.sched, err = scheduler.New(dict, cfg.WordInterval, state.LastGameID, scheduler.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	//3.- Fan-out to subscribers and, when configured, the multicast group.
	notifierOpts := []fanout.Option{
		fanout.WithLogger(logger),
		fanout.WithWorkers(cfg.FanoutWorkers),
		fanout.WithQueueSize(cfg.FanoutQueue),
	}
	if cfg.Multicast.Addr != "" {
		a.multicast, err = fanout.DialMulticast(cfg.Multicast.Addr, cfg.Multicast.TTL, cfg.Multicast.Loopback)
		if err != nil {
			return nil, err
		}
		notifierOpts = append(notifierOpts, fanout.WithSender(a.multicast))
		logger.Info("sharing games", logging.String("group", listenerURL("udp", cfg.Multicast.Addr)))
	}
	a.notifier = fanout.NewNotifier(a.board, cfg.TopBand, notifierOpts...)

	translator, err := newTranslator(cfg.Translate, logger)
	if err != nil {
		a.closeMulticast()
		return nil, err
	}

	//4.- The snapshot source reads live state on every flush.
	a.snapshots, err = persistence.NewSnapshotter(cfg.StatePath, cfg.StateInterval, func() persistence.State {
		return persistence.NewState(a.sched.LastGameID(), a.registry.Snapshot())
	}, persistence.WithLogger(logger))
	if err != nil {
		a.closeMulticast()
		return nil, err
	}

	deps := &session.Deps{
		Accounts: a.registry,
		Ranking:  a.board,
		Words:    a.sched,
		Notifier: a.notifier,
		TopBand:  cfg.TopBand,
	}
	a.game = server.New(deps,
		server.WithLogger(logger),
		server.WithMaxFrameBytes(cfg.MaxFrameBytes),
		server.WithIdleTimeout(cfg.IdleTimeout),
		server.WithTranslator(translator),
	)

	a.control = rpc.NewService(a.registry, a.notifier,
		rpc.WithLogger(logger),
		rpc.WithRegisterLimit(cfg.RegisterRate, cfg.RegisterBurst),
		rpc.WithFlusher(a.snapshots),
	)
	a.grpcServer = grpc.NewServer(rpc.ServerOptions(cfg.GRPCSharedSecret, logger)...)
	rpc.RegisterControlServer(a.grpcServer, a.control)

	handlers := httpapi.NewHandlerSet(httpapi.Options{
		Logger:         logger,
		Readiness:      &readiness{app: a},
		Ranking:        a.board,
		Hub:            a.notifier,
		AllowedOrigins: cfg.AllowedOrigins,
		UpgradeLimiter: rate.NewLimiter(rate.Limit(cfg.RegisterRate), cfg.RegisterBurst),
	})
	a.httpServer = &http.Server{
		Handler:           handlers.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return a, nil
}

// newTranslator returns a no-op translator when no endpoint is configured.
func newTranslator(cfg config.TranslateConfig, logger *logging.Logger) (translate.Translator, error) {
	if cfg.Endpoint == "" {
		logger.Info("translation disabled")
		return translate.Nop{}, nil
	}
	return translate.NewHTTP(
		translate.WithEndpoint(cfg.Endpoint),
		translate.WithLangPair(cfg.LangPair),
		translate.WithTimeout(cfg.Timeout),
		translate.WithCacheSize(cfg.CacheSize),
		translate.WithLogger(logger),
	)
}

// seedLeaderboard ranks every account that has finished at least one game.
func seedLeaderboard(records []registry.Record) *leaderboard.Board {
	board := leaderboard.New()
	for _, rec := range records {
		if rec.Stats.TotalGames > 0 {
			board.Update(rec.Username, rec.Stats.Score())
		}
	}
	return board
}

// listen binds the configured addresses. Empty gRPC or HTTP addresses
// disable those surfaces.
func (a *app) listen() error {
	var err error
	if a.tcpLn, err = net.Listen("tcp", a.cfg.TCPAddr); err != nil {
		return fmt.Errorf("listen game: %w", err)
	}
	if a.cfg.GRPCAddr != "" {
		if a.grpcLn, err = net.Listen("tcp", a.cfg.GRPCAddr); err != nil {
			a.tcpLn.Close()
			return fmt.Errorf("listen control plane: %w", err)
		}
	}
	if a.cfg.HTTPAddr != "" {
		if a.httpLn, err = net.Listen("tcp", a.cfg.HTTPAddr); err != nil {
			a.tcpLn.Close()
			if a.grpcLn != nil {
				a.grpcLn.Close()
			}
			return fmt.Errorf("listen http: %w", err)
		}
	}
	return nil
}

// abort releases what newApp opened when the process cannot start serving.
func (a *app) abort() {
	a.closeMulticast()
	if err := a.snapshots.Close(); err != nil {
		a.logger.Warn("close snapshotter", logging.Error(err))
	}
}

// run serves on the bound listeners until ctx is done or one fails, then
// shuts down in order: listeners and sessions first, the snapshot last.
func (a *app) run(ctx context.Context) error {
	bgCtx, stopBackground := context.WithCancel(context.Background())
	var background sync.WaitGroup
	background.Add(2)
	go func() {
		defer background.Done()
		a.sched.Run(bgCtx)
	}()
	go func() {
		defer background.Done()
		a.notifier.Run(bgCtx)
	}()

	errCh := make(chan error, 3)
	go func() {
		if err := a.game.Serve(context.Background(), a.tcpLn); err != nil && !errors.Is(err, server.ErrServerClosed) {
			errCh <- fmt.Errorf("game server: %w", err)
		}
	}()
	a.logger.Info("game server listening", logging.String("url", listenerURL("tcp", a.tcpLn.Addr().String())))
	if a.grpcLn != nil {
		go func() {
			if err := a.grpcServer.Serve(a.grpcLn); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				errCh <- fmt.Errorf("control plane: %w", err)
			}
		}()
		a.logger.Info("control plane listening", logging.String("url", listenerURL("grpc", a.grpcLn.Addr().String())))
	}
	if a.httpLn != nil {
		go func() {
			if err := a.httpServer.Serve(a.httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("http server: %w", err)
			}
		}()
		a.logger.Info("http listening", logging.String("url", listenerURL("http", a.httpLn.Addr().String())))
	}

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutdown requested")
	case runErr = <-errCh:
		a.logger.Error("listener failed", logging.Error(runErr))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	errs := []error{runErr}

	//1.- Stop the public surfaces so no new rounds start.
	if a.httpLn != nil {
		errs = append(errs, a.httpServer.Shutdown(shutdownCtx))
	}
	if a.grpcLn != nil {
		a.stopGRPC(shutdownCtx)
	}
	//2.- Closing game connections scores every open round.
	errs = append(errs, a.game.Shutdown(shutdownCtx))

	//3.- Background loops stop before the final flush.
	stopBackground()
	background.Wait()
	a.closeMulticast()
	errs = append(errs, a.snapshots.Close())

	err := errors.Join(errs...)
	if err != nil {
		a.logger.Error("shutdown finished with errors", logging.Error(err))
	} else {
		a.logger.Info("shutdown complete", logging.Duration("uptime", time.Since(a.started)))
	}
	return err
}

// stopGRPC ends subscription streams, drains in-flight calls and falls back
// to Stop when ctx expires.
func (a *app) stopGRPC(ctx context.Context) {
	if n := a.control.CloseStreams(); n > 0 {
		a.logger.Info("closed leaderboard streams", logging.Int("streams", n))
	}
	done := make(chan struct{})
	go func() {
		a.grpcServer.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		a.grpcServer.Stop()
		<-done
	}
}

func (a *app) closeMulticast() {
	if a.multicast == nil {
		return
	}
	if err := a.multicast.Close(); err != nil {
		a.logger.Warn("close multicast sender", logging.Error(err))
	}
}

// readiness reports live process state to /readyz.
type readiness struct {
	app *app
}

func (r *readiness) Uptime() time.Duration { return time.Since(r.app.started) }
func (r *readiness) Connections() int64    { return r.app.game.ActiveConnections() }
func (r *readiness) Subscribers() int      { return r.app.notifier.Subscribers() }
func (r *readiness) CurrentGameID() int64  { return r.app.sched.Current().GameID }
