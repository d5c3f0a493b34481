// Package client is the Go producer and reader for a siemd server.
//
//	c := client.New(client.Options{ServerURL: "http://localhost:5000"})
//	defer c.Close()
//	c.Enqueue(client.Record{AnomalyType: "network_error", Severity: "high"})
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Arshal-Agarwal/SIEM-Dashboard-Final/internal/health"
	"github.com/Arshal-Agarwal/SIEM-Dashboard-Final/internal/model"
	"github.com/Arshal-Agarwal/SIEM-Dashboard-Final/internal/views"
)

type (
	Record         = model.LogRecord
	Payload        = model.LogPayload
	StoredRecord   = model.StoredLogRecord
	View           = views.View
	HealthSnapshot = health.Snapshot
)

// Float returns a pointer to v for the optional numeric fields of a Record.
func Float(v float64) *float64 { return &v }

type Options struct {
	ServerURL string
	// Token is sent as a bearer token when the server requires one for ingest.
	Token         string
	ProducerID    string
	QueueSize     int
	BatchSize     int
	FlushInterval time.Duration
	HTTPClient    *http.Client
	// OnError receives background send failures. Defaults to discarding them.
	OnError func(error)
}

// APIError is a non-2xx reply from the server.
type APIError struct {
	Status     int
	Body       string
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	return fmt.Sprintf("siemd: HTTP %d: %s", e.Status, e.Body)
}

// Temporary reports whether the request may succeed when retried.
func (e *APIError) Temporary() bool {
	return e.RetryAfter > 0 || e.Status == http.StatusServiceUnavailable
}

type Client struct {
	opts    Options
	base    string
	http    *http.Client
	queue   chan Record
	flushCh chan chan error
	done    chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
	dropped atomic.Uint64
}

func New(opts Options) *Client {
	if opts.ProducerID == "" {
		opts.ProducerID = uuid.NewString()
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 10000
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = time.Second
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	if opts.OnError == nil {
		opts.OnError = func(error) {}
	}

	c := &Client{
		opts:    opts,
		base:    strings.TrimRight(opts.ServerURL, "/"),
		http:    opts.HTTPClient,
		queue:   make(chan Record, opts.QueueSize),
		flushCh: make(chan chan error),
		done:    make(chan struct{}),
	}
	c.wg.Add(1)
	go c.runLoop()
	return c
}

// ProducerID identifies this client to the server in the X-Producer-ID header.
func (c *Client) ProducerID() string { return c.opts.ProducerID }

// Send posts recs as one batch and returns the number the server stored.
func (c *Client) Send(ctx context.Context, recs []Record) (int, error) {
	if recs == nil {
		recs = []Record{}
	}
	data, err := json.Marshal(recs)
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/api/logs", bytes.NewReader(data))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.opts.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.opts.Token)
	}

	body, err := c.do(req)
	if err != nil {
		return 0, err
	}
	return parseCount(body, len(recs)), nil
}

// Recent returns up to limit stored records, newest first, optionally
// filtered by a query expression.
func (c *Client) Recent(ctx context.Context, limit int, query string) ([]StoredRecord, error) {
	v := url.Values{}
	if limit > 0 {
		v.Set("limit", strconv.Itoa(limit))
	}
	if query != "" {
		v.Set("q", query)
	}
	target := c.base + "/api/logs"
	if len(v) > 0 {
		target += "?" + v.Encode()
	}

	var out []StoredRecord
	if err := c.getJSON(ctx, target, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SystemHealth fetches the server's host snapshot.
func (c *Client) SystemHealth(ctx context.Context) (HealthSnapshot, error) {
	var snap HealthSnapshot
	err := c.getJSON(ctx, c.base+"/api/system-health", &snap)
	return snap, err
}

func (c *Client) getJSON(ctx context.Context, target string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	body, err := c.do(req)
	if err != nil {
		return err
	}
	return json.Unmarshal(body, v)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	req.Header.Set("X-Producer-ID", c.opts.ProducerID)
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode/100 != 2 {
		apiErr := &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
		if s, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil {
			apiErr.RetryAfter = time.Duration(s) * time.Second
		}
		return nil, apiErr
	}
	return body, nil
}

// parseCount reads N from "Logs received and broadcasted (N)".
func parseCount(body []byte, fallback int) int {
	s := string(body)
	open, end := strings.LastIndexByte(s, '('), strings.LastIndexByte(s, ')')
	if open < 0 || end <= open {
		return fallback
	}
	n, err := strconv.Atoi(s[open+1 : end])
	if err != nil {
		return fallback
	}
	return n
}
