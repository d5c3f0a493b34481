package broadcast

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Arshal-Agarwal/SIEM-Dashboard-Final/internal/model"
)

func rec(id uint64) model.StoredLogRecord {
	return model.StoredLogRecord{ID: id, LogRecord: model.LogRecord{AnomalyType: "normal"}}
}

type countingObserver struct {
	mu                                  sync.Mutex
	published, dropped, failed, lastSub int
}

func (o *countingObserver) Published()      { o.mu.Lock(); o.published++; o.mu.Unlock() }
func (o *countingObserver) Dropped()        { o.mu.Lock(); o.dropped++; o.mu.Unlock() }
func (o *countingObserver) DeliveryFailed() { o.mu.Lock(); o.failed++; o.mu.Unlock() }
func (o *countingObserver) Subscribers(n int) {
	o.mu.Lock()
	o.lastSub = n
	o.mu.Unlock()
}

func receive(t *testing.T, s *Subscription) model.StoredLogRecord {
	t.Helper()
	select {
	case r, ok := <-s.Events():
		if !ok {
			t.Fatal("subscription closed unexpectedly")
		}
		return r
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
	return model.StoredLogRecord{}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestPublishReachesEverySubscriberInOrder(t *testing.T) {
	h := NewHub(Options{})
	a := h.Subscribe(context.Background(), Info{Client: "a"})
	b := h.Subscribe(context.Background(), Info{Client: "b"})
	defer a.Close()
	defer b.Close()

	h.Publish(rec(1))
	h.Publish(rec(2))

	for _, s := range []*Subscription{a, b} {
		if got := receive(t, s).ID; got != 1 {
			t.Fatalf("expected first event id 1, got %d", got)
		}
		if got := receive(t, s).ID; got != 2 {
			t.Fatalf("expected second event id 2, got %d", got)
		}
	}
}

func TestPublishDropsOldestWhenFull(t *testing.T) {
	obs := &countingObserver{}
	h := NewHub(Options{Buffer: 2, Observer: obs})
	s := h.Subscribe(context.Background(), Info{})
	defer s.Close()

	for i := uint64(1); i <= 5; i++ {
		h.Publish(rec(i))
	}

	if got := receive(t, s).ID; got != 4 {
		t.Fatalf("expected oldest retained id 4, got %d", got)
	}
	if got := receive(t, s).ID; got != 5 {
		t.Fatalf("expected newest id 5, got %d", got)
	}
	if info := s.Info(); info.Dropped != 3 {
		t.Fatalf("expected 3 dropped, got %d", info.Dropped)
	}
	if obs.dropped != 3 || obs.published != 5 {
		t.Fatalf("unexpected observer counts %+v", obs)
	}
}

func TestPublishWithoutSubscribersDoesNotBlock(t *testing.T) {
	h := NewHub(Options{Buffer: 1})
	done := make(chan struct{})
	go func() {
		for i := uint64(0); i < 10000; i++ {
			h.Publish(rec(i))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked")
	}
}

func TestCancelledContextEndsSubscription(t *testing.T) {
	obs := &countingObserver{}
	h := NewHub(Options{Observer: obs})
	ctx, cancel := context.WithCancel(context.Background())
	s := h.Subscribe(ctx, Info{})

	h.Publish(rec(1))
	cancel()

	waitFor(t, func() bool {
		obs.mu.Lock()
		defer obs.mu.Unlock()
		return obs.lastSub == 0 && h.Registry().Len() == 0
	})

	// pending event was discarded and the channel is closed
	if _, ok := <-s.Events(); ok {
		t.Fatal("expected no events after cancellation")
	}
	h.Publish(rec(2))
}

func TestCloseIsIdempotent(t *testing.T) {
	h := NewHub(Options{})
	s := h.Subscribe(context.Background(), Info{})
	s.Close()
	s.Close()
	select {
	case <-s.Done():
	default:
		t.Fatal("expected Done to be closed")
	}
}

func TestFailIsolatesSubscriber(t *testing.T) {
	obs := &countingObserver{}
	h := NewHub(Options{Observer: obs})
	bad := h.Subscribe(context.Background(), Info{Client: "bad"})
	good := h.Subscribe(context.Background(), Info{Client: "good"})
	defer good.Close()

	err := bad.Fail(errors.New("broken pipe"))
	if !errors.Is(err, ErrDeliveryFailure) {
		t.Fatalf("expected ErrDeliveryFailure, got %v", err)
	}

	h.Publish(rec(7))
	if got := receive(t, good).ID; got != 7 {
		t.Fatalf("healthy subscriber missed event, got %d", got)
	}
	if h.Registry().Len() != 1 || obs.failed != 1 {
		t.Fatalf("expected only failed subscriber removed, len=%d failed=%d", h.Registry().Len(), obs.failed)
	}
}

func TestRegistryListAndPrune(t *testing.T) {
	now := time.Unix(1700000000, 0)
	var mu sync.Mutex
	clock := func() time.Time { mu.Lock(); defer mu.Unlock(); return now }
	h := NewHub(Options{Now: clock})

	first := h.Subscribe(context.Background(), Info{Client: "dashboard", Views: true})
	mu.Lock()
	now = now.Add(time.Minute)
	mu.Unlock()
	second := h.Subscribe(context.Background(), Info{Client: "watch"})
	defer second.Close()

	list := h.Registry().List()
	if len(list) != 2 || list[0].ID != first.ID() || !list[0].Views || list[1].Client != "watch" {
		t.Fatalf("unexpected list %+v", list)
	}

	h.Publish(rec(1))
	receive(t, second)
	second.Delivered()
	if info, ok := h.Registry().Get(second.ID()); !ok || info.Delivered != 1 {
		t.Fatalf("unexpected info %+v", info)
	}

	// first was last seen a minute before second
	n := h.Registry().PruneStale(now.Add(30*time.Second), 45*time.Second)
	if n != 1 {
		t.Fatalf("expected 1 pruned, got %d", n)
	}
	if _, ok := h.Registry().Get(first.ID()); ok {
		t.Fatal("stale subscription should be pruned")
	}
	if _, ok := h.Registry().Get(second.ID()); !ok {
		t.Fatal("fresh subscription should remain")
	}
}

func TestSubscriptionIDsAreUnique(t *testing.T) {
	h := NewHub(Options{})
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		s := h.Subscribe(context.Background(), Info{})
		if seen[s.ID()] {
			t.Fatalf("duplicate id %s", s.ID())
		}
		seen[s.ID()] = true
		s.Close()
	}
}
