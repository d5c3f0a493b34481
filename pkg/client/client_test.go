package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

type fakeServer struct {
	mu       sync.Mutex
	batches  [][]Record
	producer string
	auth     string
	fail     bool
}

func (f *fakeServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/logs", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.producer = r.Header.Get("X-Producer-ID")
		f.auth = r.Header.Get("Authorization")
		if f.fail {
			w.Header().Set("Retry-After", "1")
			http.Error(w, "Failed to save logs", http.StatusInternalServerError)
			return
		}
		var recs []Record
		if err := json.NewDecoder(r.Body).Decode(&recs); err != nil {
			http.Error(w, "Request must be an array of logs", http.StatusBadRequest)
			return
		}
		f.batches = append(f.batches, recs)
		fmt.Fprintf(w, "Logs received and broadcasted (%d)", len(recs))
	})
	mux.HandleFunc("GET /api/logs", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("limit") != "2" || r.URL.Query().Get("q") != "threat:true" {
			http.Error(w, "unexpected query "+r.URL.RawQuery, http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode([]StoredRecord{
			{ID: 9, LogRecord: Record{AnomalyType: "network_error"}},
			{ID: 4, LogRecord: Record{AnomalyType: "memory_error"}},
		})
	})
	mux.HandleFunc("GET /api/system-health", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		fail := f.fail
		f.mu.Unlock()
		if fail {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			fmt.Fprint(w, `{"error":"Failed to fetch system health"}`)
			return
		}
		fmt.Fprint(w, `{"cpu":{"usage":12.5},"memory":{"total":8,"free":2,"used":6,"usedPercentage":75},`+
			`"disk":{"total":100,"free":25,"used":75,"usedPercentage":75},"system":{"hostname":"node-1","platform":"linux"}}`)
	})
	mux.HandleFunc("GET /api/stream", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, ": subscribed abc\n\n")
		if r.URL.Query().Get("views") == "1" {
			fmt.Fprint(w, "event: views\ndata: {\"total\":3,\"threat_percent\":\"33.3\"}\n\n")
		}
		fmt.Fprint(w, "event: new_log\ndata: {\"_id\":7,\"anomaly_type\":\"normal\"}\n\n")
		fmt.Fprint(w, ": ping\n\n")
		fmt.Fprint(w, "event: other\ndata: {}\n\n")
		fmt.Fprint(w, "event: new_log\ndata: {\"_id\":8,\"anomaly_type\":\"memory_error\"}\n\n")
	})
	return mux
}

func (f *fakeServer) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, b := range f.batches {
		n += len(b)
	}
	return n
}

func TestSendReturnsStoredCount(t *testing.T) {
	fs := &fakeServer{}
	ts := httptest.NewServer(fs.handler())
	defer ts.Close()

	c := New(Options{ServerURL: ts.URL + "/", Token: "s3cret"})
	defer c.Close()

	n, err := c.Send(context.Background(), []Record{
		{AnomalyType: "network_error", Confidence: Float(0.8)},
		{AnomalyType: "normal"},
	})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 stored, got %d", n)
	}
	if fs.producer != c.ProducerID() || fs.auth != "Bearer s3cret" {
		t.Fatalf("missing headers: producer=%q auth=%q", fs.producer, fs.auth)
	}
}

func TestSendSurfacesRetryableError(t *testing.T) {
	fs := &fakeServer{fail: true}
	ts := httptest.NewServer(fs.handler())
	defer ts.Close()

	c := New(Options{ServerURL: ts.URL})
	defer c.Close()

	_, err := c.Send(context.Background(), []Record{{AnomalyType: "normal"}})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Status != http.StatusInternalServerError || !apiErr.Temporary() || apiErr.RetryAfter != time.Second {
		t.Fatalf("unexpected error %+v", apiErr)
	}
}

func TestEnqueueBatchesAndFlush(t *testing.T) {
	fs := &fakeServer{}
	ts := httptest.NewServer(fs.handler())
	defer ts.Close()

	c := New(Options{ServerURL: ts.URL, BatchSize: 3, FlushInterval: time.Hour})
	defer c.Close()

	for i := 0; i < 7; i++ {
		if !c.Enqueue(Record{AnomalyType: "normal"}) {
			t.Fatal("enqueue rejected")
		}
	}
	if err := c.Flush(context.Background()); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if got := fs.total(); got != 7 {
		t.Fatalf("expected 7 delivered, got %d", got)
	}
	for _, b := range fs.batches {
		if len(b) > 3 {
			t.Fatalf("batch larger than BatchSize: %d", len(b))
		}
	}
}

func TestCloseFlushesQueue(t *testing.T) {
	fs := &fakeServer{}
	ts := httptest.NewServer(fs.handler())
	defer ts.Close()

	c := New(Options{ServerURL: ts.URL, FlushInterval: time.Hour})
	c.Enqueue(Record{AnomalyType: "memory_error"})
	c.Enqueue(Record{AnomalyType: "normal"})
	c.Close()

	if got := fs.total(); got != 2 {
		t.Fatalf("expected queue flushed on close, got %d", got)
	}
	if c.Enqueue(Record{}) {
		t.Fatal("enqueue after close should fail")
	}
	if err := c.Flush(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestEnqueueDropsWhenFull(t *testing.T) {
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		fmt.Fprint(w, "Logs received and broadcasted (1)")
	}))
	defer ts.Close()

	// the loop stalls on its first send, so the queue fills up
	c := New(Options{ServerURL: ts.URL, QueueSize: 1, BatchSize: 1})
	accepted := 0
	for i := 0; i < 50; i++ {
		if c.Enqueue(Record{}) {
			accepted++
		}
	}
	close(release)
	c.Close()

	if c.Dropped() == 0 || uint64(accepted)+c.Dropped() != 50 {
		t.Fatalf("expected drops to be counted, accepted=%d dropped=%d", accepted, c.Dropped())
	}
}

func TestRecent(t *testing.T) {
	ts := httptest.NewServer((&fakeServer{}).handler())
	defer ts.Close()

	c := New(Options{ServerURL: ts.URL})
	defer c.Close()

	recs, err := c.Recent(context.Background(), 2, "threat:true")
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(recs) != 2 || recs[0].ID != 9 {
		t.Fatalf("unexpected records %+v", recs)
	}
}

func TestSubscribe(t *testing.T) {
	ts := httptest.NewServer((&fakeServer{}).handler())
	defer ts.Close()

	c := New(Options{ServerURL: ts.URL})
	defer c.Close()

	var events []Event
	var subscribedID string
	opts := SubscribeOptions{
		Views: true,
		OnSubscribed: func(id string) {
			if len(events) != 0 {
				t.Errorf("subscription acknowledged after %d events", len(events))
			}
			subscribedID = id
		},
	}
	err := c.Subscribe(context.Background(), opts, func(ev Event) error {
		events = append(events, ev)
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if subscribedID != "abc" {
		t.Fatalf("expected subscriber id abc, got %q", subscribedID)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if events[0].View == nil || events[0].View.Total != 3 || events[0].View.ThreatPercent != "33.3" {
		t.Fatalf("unexpected views event %+v", events[0])
	}
	if events[1].Record == nil || events[1].Record.ID != 7 || events[2].Record.AnomalyType != "memory_error" {
		t.Fatalf("unexpected record events %+v %+v", events[1], events[2])
	}
}

func TestSubscribeStopsOnCallbackError(t *testing.T) {
	ts := httptest.NewServer((&fakeServer{}).handler())
	defer ts.Close()

	c := New(Options{ServerURL: ts.URL})
	defer c.Close()

	stop := errors.New("stop")
	calls := 0
	err := c.Subscribe(context.Background(), SubscribeOptions{}, func(Event) error {
		calls++
		return stop
	})
	if !errors.Is(err, stop) || calls != 1 {
		t.Fatalf("expected callback error after one call, got %v calls=%d", err, calls)
	}
}

func TestSystemHealth(t *testing.T) {
	fs := &fakeServer{}
	ts := httptest.NewServer(fs.handler())
	defer ts.Close()

	c := New(Options{ServerURL: ts.URL})
	defer c.Close()

	snap, err := c.SystemHealth(context.Background())
	if err != nil {
		t.Fatalf("SystemHealth failed: %v", err)
	}
	if snap.CPU.Usage != 12.5 || snap.Memory.UsedPercentage != 75 || snap.System.Hostname != "node-1" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}

	fs.mu.Lock()
	fs.fail = true
	fs.mu.Unlock()
	_, err = c.SystemHealth(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusInternalServerError {
		t.Fatalf("expected 500 APIError, got %v", err)
	}
}

func TestParseCount(t *testing.T) {
	if n := parseCount([]byte("Logs received and broadcasted (12)"), 0); n != 12 {
		t.Fatalf("expected 12, got %d", n)
	}
	if n := parseCount([]byte("ok"), 5); n != 5 {
		t.Fatalf("expected fallback 5, got %d", n)
	}
}
