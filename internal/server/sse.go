package server

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/Arshal-Agarwal/SIEM-Dashboard-Final/internal/broadcast"
	"github.com/Arshal-Agarwal/SIEM-Dashboard-Final/internal/store"
	"github.com/Arshal-Agarwal/SIEM-Dashboard-Final/internal/views"
)

// Event names on the stream.
const (
	EventNewLog = "new_log"
	EventViews  = "views"
)

// formatSSEEvent frames data as one Server-Sent Event. Multi-line data is
// split over several data fields.
func formatSSEEvent(event string, data []byte) []byte {
	var buf bytes.Buffer
	if event != "" {
		buf.WriteString("event: ")
		buf.WriteString(event)
		buf.WriteByte('\n')
	}
	for _, line := range bytes.Split(data, []byte("\n")) {
		buf.WriteString("data: ")
		buf.Write(line)
		buf.WriteByte('\n')
	}
	buf.WriteByte('\n')
	return buf.Bytes()
}

// sseWriter writes frames and flushes them to the client.
type sseWriter struct {
	w http.ResponseWriter
	f http.Flusher
}

func (sw sseWriter) send(event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return sw.raw(formatSSEEvent(event, data))
}

func (sw sseWriter) raw(frame []byte) error {
	if _, err := sw.w.Write(frame); err != nil {
		return err
	}
	sw.f.Flush()
	return nil
}

// handleStream serves GET /api/stream. Every stored record is sent as a
// new_log event. With views=1 the connection also receives a views event
// computed from a fresh snapshot and after every new_log.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	q := r.URL.Query()
	withViews, _ := strconv.ParseBool(q.Get("views"))
	client := q.Get("client")
	if client == "" {
		client = r.UserAgent()
	}

	// Subscribe before taking the snapshot so no record falls between them.
	sub := s.deps.Hub.Subscribe(r.Context(), broadcast.Info{
		Client:     client,
		RemoteAddr: r.RemoteAddr,
		Views:      withViews,
	})
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	sw := sseWriter{w: w, f: flusher}
	if err := sw.raw([]byte(": subscribed " + sub.ID() + "\n\n")); err != nil {
		s.deliveryFailed(sub, err)
		return
	}

	var (
		eng      *views.Engine
		loadedID uint64
	)
	if withViews {
		eng = s.newViews()
		ctx, cancel := context.WithTimeout(r.Context(), s.opts.StoreTimeout)
		snapshot, err := s.deps.Store.QueryRecent(ctx, store.DefaultLimit)
		cancel()
		if err != nil {
			slog.Warn("stream snapshot failed, starting from empty views", "subscriber", sub.ID(), "err", err)
		} else {
			eng.Load(snapshot)
			if len(snapshot) > 0 {
				loadedID = snapshot[0].ID
			}
		}
		if err := sw.send(EventViews, eng.View()); err != nil {
			s.deliveryFailed(sub, err)
			return
		}
	}

	ticker := time.NewTicker(s.opts.Heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-sub.Done():
			return
		case <-ticker.C:
			if err := sw.raw([]byte(": ping\n\n")); err != nil {
				s.deliveryFailed(sub, err)
				return
			}
			sub.Touch()
		case rec, ok := <-sub.Events():
			if !ok {
				return
			}
			if err := sw.send(EventNewLog, rec); err != nil {
				s.deliveryFailed(sub, err)
				return
			}
			sub.Delivered()

			if eng == nil {
				continue
			}
			// records already folded in by the snapshot
			if rec.ID > loadedID {
				eng.Apply(rec)
			}
			if err := sw.send(EventViews, eng.View()); err != nil {
				s.deliveryFailed(sub, err)
				return
			}
		}
	}
}

func (s *Server) deliveryFailed(sub *broadcast.Subscription, err error) {
	slog.Warn("stream closed", "err", sub.Fail(err))
}
