// Package fanout delivers leaderboard pushes to subscribers and shared games
// to the multicast group without blocking the session loop.
package fanout

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc/pool"

	"wordle/server/internal/game"
	"wordle/server/internal/leaderboard"
	"wordle/server/internal/logging"
	"wordle/server/internal/protocol"
)

const (
	// DefaultWorkers bounds concurrent deliveries.
	DefaultWorkers = 8
	// DefaultQueue bounds pending jobs.
	DefaultQueue = 256
	// DefaultDeliveryTimeout bounds one subscriber callback or datagram send.
	DefaultDeliveryTimeout = 5 * time.Second
)

// Subscriber receives top-K leaderboard snapshots. A delivery error evicts it.
type Subscriber interface {
	ID() string
	UpdateLeaderboard(ctx context.Context, entries []leaderboard.Entry) error
}

// Ranking is the read side of the leaderboard used for snapshots.
type Ranking interface {
	Top(k int) []leaderboard.Entry
}

// Sender transmits one datagram.
type Sender interface {
	Send(ctx context.Context, payload []byte) error
}

// Option customises a Notifier.
type Option func(*Notifier)

// WithWorkers bounds concurrent deliveries.
func WithWorkers(n int) Option {
	return func(nt *Notifier) {
		if n > 0 {
			nt.workers = n
		}
	}
}

// WithQueueSize bounds pending jobs.
func WithQueueSize(size int) Option {
	return func(n *Notifier) {
		if size > 0 {
			n.queueSize = size
		}
	}
}

// WithDeliveryTimeout bounds each delivery.
func WithDeliveryTimeout(d time.Duration) Option {
	return func(n *Notifier) {
		if d > 0 {
			n.timeout = d
		}
	}
}

// WithSender attaches the multicast transport used by ShareGame.
func WithSender(sender Sender) Option {
	return func(n *Notifier) { n.sender = sender }
}

// WithLogger attaches a structured logger.
func WithLogger(logger *logging.Logger) Option {
	return func(n *Notifier) {
		if logger != nil {
			n.logger = logger
		}
	}
}

// job expands into delivery tasks on the dispatcher goroutine so every
// task runs on the bounded pool.
type job func() []task

type task func(ctx context.Context)

// Notifier owns the subscriber set and a bounded delivery pool.
type Notifier struct {
	ranking   Ranking
	topK      int
	sender    Sender
	logger    *logging.Logger
	workers   int
	queueSize int
	timeout   time.Duration

	mu   sync.RWMutex
	subs map[string]Subscriber

	jobs    chan job
	dropped atomic.Int64
}

// NewNotifier returns a notifier that snapshots the best topK entries of ranking.
func NewNotifier(ranking Ranking, topK int, opts ...Option) *Notifier {
	n := &Notifier{
		ranking:   ranking,
		topK:      topK,
		logger:    logging.L(),
		workers:   DefaultWorkers,
		queueSize: DefaultQueue,
		timeout:   DefaultDeliveryTimeout,
		subs:      make(map[string]Subscriber),
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.topK <= 0 {
		n.topK = protocol.DefaultTopK
	}
	n.logger = n.logger.With(logging.String("component", "fanout"))
	n.jobs = make(chan job, n.queueSize)
	return n
}

// Subscribe adds sub to the push set, replacing any subscriber with the same id.
func (n *Notifier) Subscribe(sub Subscriber) {
	n.mu.Lock()
	n.subs[sub.ID()] = sub
	count := len(n.subs)
	n.mu.Unlock()
	n.logger.Info("subscriber added", logging.String("subscriber", sub.ID()), logging.Int("subscribers", count))
}

// Unsubscribe removes the subscriber with id.
func (n *Notifier) Unsubscribe(id string) bool {
	n.mu.Lock()
	_, ok := n.subs[id]
	delete(n.subs, id)
	n.mu.Unlock()
	if ok {
		n.logger.Info("subscriber removed", logging.String("subscriber", id))
	}
	return ok
}

// Subscribers returns the number of registered subscribers.
func (n *Notifier) Subscribers() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.subs)
}

// Snapshot returns the current top-K entries.
func (n *Notifier) Snapshot() []leaderboard.Entry {
	return n.ranking.Top(n.topK)
}

// Dropped returns how many jobs were discarded because the queue was full.
func (n *Notifier) Dropped() int64 { return n.dropped.Load() }

// NotifyLeaderboardChange queues a push of the current top-K to every subscriber.
func (n *Notifier) NotifyLeaderboardChange() {
	n.enqueue("leaderboard", n.pushLeaderboard)
}

// ShareGame queues one multicast datagram describing desc.
func (n *Notifier) ShareGame(username string, desc game.Descriptor) {
	if n.sender == nil {
		n.logger.Warn("share requested without multicast sender", logging.String("username", username))
		return
	}
	payload, err := protocol.EncodeShare(username, desc)
	if err != nil {
		n.logger.Warn("share encoding failed", logging.String("username", username), logging.Error(err))
		return
	}
	n.enqueue("share", func() []task {
		return []task{func(ctx context.Context) {
			ctx, cancel := context.WithTimeout(ctx, n.timeout)
			defer cancel()
			if err := n.sender.Send(ctx, payload); err != nil {
				n.logger.Warn("share broadcast failed", logging.String("username", username), logging.Error(err))
				return
			}
			n.logger.Debug("game shared", logging.String("username", username), logging.Int64("game_id", desc.GameID))
		}}
	})
}

func (n *Notifier) enqueue(kind string, j job) {
	select {
	case n.jobs <- j:
	default:
		total := n.dropped.Add(1)
		n.logger.Warn("fanout queue full, dropping job", logging.String("kind", kind), logging.Int64("dropped", total))
	}
}

func (n *Notifier) pushLeaderboard() []task {
	entries := n.Snapshot()

	n.mu.RLock()
	subs := make([]Subscriber, 0, len(n.subs))
	for _, sub := range n.subs {
		subs = append(subs, sub)
	}
	n.mu.RUnlock()
	sort.Slice(subs, func(i, j int) bool { return subs[i].ID() < subs[j].ID() })

	tasks := make([]task, 0, len(subs))
	for _, sub := range subs {
		tasks = append(tasks, func(ctx context.Context) {
			ctx, cancel := context.WithTimeout(ctx, n.timeout)
			defer cancel()
			if err := sub.UpdateLeaderboard(ctx, entries); err != nil {
				n.logger.Warn("subscriber delivery failed, evicting", logging.String("subscriber", sub.ID()), logging.Error(err))
				n.evict(sub)
			}
		})
	}
	return tasks
}

// evict removes sub only if it is still the registered instance for its id.
func (n *Notifier) evict(sub Subscriber) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if current, ok := n.subs[sub.ID()]; ok && current == sub {
		delete(n.subs, sub.ID())
	}
}

// Run dispatches queued jobs onto the worker pool until ctx is done, then
// waits for in-flight deliveries.
func (n *Notifier) Run(ctx context.Context) {
	p := pool.New().WithMaxGoroutines(n.workers)
	defer p.Wait()
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-n.jobs:
			for _, t := range j() {
				p.Go(func() { t(ctx) })
			}
		}
	}
}
