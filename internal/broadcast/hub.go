// Package broadcast fans stored records out to live subscribers.
//
// Publish never blocks: every subscription owns a bounded buffer and, when a
// slow consumer lets it fill up, the oldest pending event is dropped to make
// room for the newest.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Arshal-Agarwal/SIEM-Dashboard-Final/internal/model"
)

// ErrDeliveryFailure reports that an event could not be written to a
// subscriber. It only ever affects that subscriber.
var ErrDeliveryFailure = errors.New("broadcast delivery failure")

// DefaultBuffer is the per-subscription queue length.
const DefaultBuffer = 256

// Observer receives hub activity, typically for metrics.
type Observer interface {
	Published()
	Dropped()
	DeliveryFailed()
	Subscribers(n int)
}

type nopObserver struct{}

func (nopObserver) Published()      {}
func (nopObserver) Dropped()        {}
func (nopObserver) DeliveryFailed() {}
func (nopObserver) Subscribers(int) {}

// Options configures a Hub.
type Options struct {
	Buffer   int
	Observer Observer
	Now      func() time.Time
}

// Hub is the in-process broadcast channel.
type Hub struct {
	reg  *Registry
	opts Options
}

// NewHub creates a hub with its own registry.
func NewHub(opts Options) *Hub {
	if opts.Buffer <= 0 {
		opts.Buffer = DefaultBuffer
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Hub{reg: NewRegistry(), opts: opts}
}

// Registry exposes the hub's subscription registry.
func (h *Hub) Registry() *Registry {
	return h.reg
}

// Publish delivers rec to every live subscription without blocking.
func (h *Hub) Publish(rec model.StoredLogRecord) {
	for _, s := range h.reg.snapshot() {
		s.offer(rec)
	}
	h.opts.Observer.Published()
}

// Subscribe registers a subscription that lives until Close is called or
// ctx is done. info.ID, ConnectedAt and LastSeenAt are assigned here.
func (h *Hub) Subscribe(ctx context.Context, info Info) *Subscription {
	ctx, cancel := context.WithCancel(ctx)
	now := h.opts.Now().Unix()
	info.ID = uuid.NewString()
	info.ConnectedAt = now
	info.LastSeenAt = now

	s := &Subscription{
		id:     info.ID,
		info:   info,
		ch:     make(chan model.StoredLogRecord, h.opts.Buffer),
		ctx:    ctx,
		cancel: cancel,
		hub:    h,
	}
	h.reg.add(s)
	h.opts.Observer.Subscribers(h.reg.Len())

	go func() {
		<-ctx.Done()
		s.Close()
	}()
	return s
}

// Close ends every subscription.
func (h *Hub) Close() {
	for _, s := range h.reg.snapshot() {
		s.Close()
	}
}

// Subscription is one consumer of the hub.
type Subscription struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc
	hub    *Hub

	mu     sync.Mutex
	info   Info
	ch     chan model.StoredLogRecord
	closed bool

	delivered atomic.Uint64
	dropped   atomic.Uint64
}

func (s *Subscription) ID() string { return s.id }

// Events yields records in publish order. It is closed when the
// subscription ends; pending events are discarded at that point.
func (s *Subscription) Events() <-chan model.StoredLogRecord { return s.ch }

// Done is closed when the subscription ends.
func (s *Subscription) Done() <-chan struct{} { return s.ctx.Done() }

// Info returns a snapshot of the subscription's metadata and counters.
func (s *Subscription) Info() Info {
	s.mu.Lock()
	info := s.info
	s.mu.Unlock()
	info.Delivered = s.delivered.Load()
	info.Dropped = s.dropped.Load()
	return info
}

// Touch records successful activity on the subscriber's transport.
func (s *Subscription) Touch() {
	now := s.hub.opts.Now().Unix()
	s.mu.Lock()
	s.info.LastSeenAt = now
	s.mu.Unlock()
}

// Delivered counts an event written to the transport and touches the subscription.
func (s *Subscription) Delivered() {
	s.delivered.Add(1)
	s.Touch()
}

func (s *Subscription) lastSeen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Unix(s.info.LastSeenAt, 0)
}

// Fail ends the subscription after a transport error and returns the error
// wrapped as ErrDeliveryFailure.
func (s *Subscription) Fail(err error) error {
	s.hub.opts.Observer.DeliveryFailed()
	s.Close()
	return fmt.Errorf("%w: subscriber %s: %v", ErrDeliveryFailure, s.id, err)
}

// Close ends the subscription. It is safe to call more than once.
func (s *Subscription) Close() {
	s.cancel()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	// discard pending events
	for {
		select {
		case <-s.ch:
			continue
		default:
		}
		break
	}
	close(s.ch)
	s.mu.Unlock()

	if s.hub.reg.remove(s.id) {
		s.hub.opts.Observer.Subscribers(s.hub.reg.Len())
	}
}

// offer enqueues rec, dropping the oldest pending event when the buffer is full.
func (s *Subscription) offer(rec model.StoredLogRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	select {
	case s.ch <- rec:
		return
	default:
	}

	select {
	case <-s.ch:
		s.dropped.Add(1)
		s.hub.opts.Observer.Dropped()
	default:
	}

	select {
	case s.ch <- rec:
	default:
		// consumer raced us for the slot; count the new event as dropped
		s.dropped.Add(1)
		s.hub.opts.Observer.Dropped()
	}
}
