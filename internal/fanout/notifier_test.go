package fanout

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"wordle/server/internal/game"
	"wordle/server/internal/leaderboard"
	"wordle/server/internal/logging"
	"wordle/server/internal/protocol"
)

type stubSubscriber struct {
	id   string
	fail bool

	mu       sync.Mutex
	received [][]leaderboard.Entry
	notify   chan struct{}
}

func newStubSubscriber(id string, fail bool) *stubSubscriber {
	return &stubSubscriber{id: id, fail: fail, notify: make(chan struct{}, 8)}
}

func (s *stubSubscriber) ID() string { return s.id }

func (s *stubSubscriber) UpdateLeaderboard(_ context.Context, entries []leaderboard.Entry) error {
	s.mu.Lock()
	s.received = append(s.received, entries)
	s.mu.Unlock()
	s.notify <- struct{}{}
	if s.fail {
		return errors.New("subscriber gone")
	}
	return nil
}

func (s *stubSubscriber) wait(t *testing.T) {
	t.Helper()
	select {
	case <-s.notify:
	case <-time.After(2 * time.Second):
		t.Fatalf("subscriber %s never notified", s.id)
	}
}

type stubSender struct {
	sent chan []byte
}

func (s *stubSender) Send(_ context.Context, payload []byte) error {
	s.sent <- payload
	return nil
}

func startNotifier(t *testing.T, n *Notifier) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		n.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestNotifyDeliversTopKAndEvictsFailures(t *testing.T) {
	board := leaderboard.New()
	board.Update("alice", 2)
	board.Update("bob", 3)
	board.Update("carol", 4)
	board.Update("dave", 5)

	n := NewNotifier(board, 3, WithLogger(logging.NewTestLogger()))
	healthy := newStubSubscriber("healthy", false)
	broken := newStubSubscriber("broken", true)
	n.Subscribe(healthy)
	n.Subscribe(broken)
	startNotifier(t, n)

	//1.- First push reaches both subscribers with the top three.
	n.NotifyLeaderboardChange()
	healthy.wait(t)
	broken.wait(t)

	healthy.mu.Lock()
	got := healthy.received[0]
	healthy.mu.Unlock()
	if len(got) != 3 || got[0].Username != "alice" || got[2].Username != "carol" {
		t.Fatalf("unexpected snapshot %v", got)
	}

	//2.- The failing subscriber is gone after its delivery error.
	deadline := time.Now().Add(2 * time.Second)
	for n.Subscribers() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("broken subscriber not evicted, %d remain", n.Subscribers())
		}
		time.Sleep(5 * time.Millisecond)
	}

	n.NotifyLeaderboardChange()
	healthy.wait(t)
	if !n.Unsubscribe("healthy") || n.Unsubscribe("healthy") {
		t.Fatal("unsubscribe should succeed exactly once")
	}
}

func TestShareGameEncodesDatagram(t *testing.T) {
	sender := &stubSender{sent: make(chan []byte, 1)}
	n := NewNotifier(leaderboard.New(), 3, WithSender(sender), WithLogger(logging.NewTestLogger()))
	startNotifier(t, n)

	desc := game.Descriptor{GameID: 9, TriesUsed: 4, MaxTries: game.MaxTries, WordLen: 5,
		Hints: []game.Hint{{Correct: []int{0}, Partial: []int{}}}}
	n.ShareGame("alice", desc)

	select {
	case payload := <-sender.sent:
		shared, err := protocol.DecodeShare(payload)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if shared.Username != "alice" || shared.Descriptor.GameID != 9 || shared.Descriptor.TriesUsed != 4 {
			t.Fatalf("unexpected datagram %+v", shared)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("share never sent")
	}
}

func TestEnqueueDropsWhenFull(t *testing.T) {
	n := NewNotifier(leaderboard.New(), 3, WithQueueSize(1), WithLogger(logging.NewTestLogger()))
	n.NotifyLeaderboardChange()
	n.NotifyLeaderboardChange()
	n.NotifyLeaderboardChange()
	if n.Dropped() != 2 {
		t.Fatalf("expected 2 dropped jobs, got %d", n.Dropped())
	}
}

func TestMulticastLoopback(t *testing.T) {
	const group = "239.255.77.77:47777"
	listener, err := ListenMulticast(group, nil)
	if err != nil {
		t.Skipf("multicast unavailable: %v", err)
	}
	defer listener.Close()
	sender, err := DialMulticast(group, 1, true)
	if err != nil {
		t.Skipf("multicast unavailable: %v", err)
	}
	defer sender.Close()

	payload, err := protocol.EncodeShare("bob", game.Descriptor{GameID: 3, TriesUsed: -1, MaxTries: game.MaxTries, WordLen: 5})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := sender.Send(context.Background(), payload); err != nil {
		t.Skipf("multicast send failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	shared, err := listener.Receive(ctx)
	if err != nil {
		t.Skipf("no multicast route on this host: %v", err)
	}
	if shared.Username != "bob" || shared.Descriptor.TriesUsed != -1 {
		t.Fatalf("unexpected share %+v", shared)
	}
}
