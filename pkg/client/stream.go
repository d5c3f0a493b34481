package client

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
)

// Event is one message from the server's live stream. Exactly one of Record
// and View is set.
type Event struct {
	Name   string
	Record *StoredRecord
	View   *View
}

type SubscribeOptions struct {
	// Views asks the server to push aggregate views along with records.
	Views  bool
	Client string
	// OnSubscribed is called with the server-assigned subscriber id once
	// the server has registered the stream.
	OnSubscribed func(id string)
}

// Subscribe reads the live stream until ctx is done, the server closes it or
// fn returns an error. Unknown events are skipped.
func (c *Client) Subscribe(ctx context.Context, opts SubscribeOptions, fn func(Event) error) error {
	v := url.Values{}
	if opts.Views {
		v.Set("views", "1")
	}
	if opts.Client != "" {
		v.Set("client", opts.Client)
	}
	target := c.base + "/api/stream"
	if len(v) > 0 {
		target += "?" + v.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("X-Producer-ID", c.opts.ProducerID)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &APIError{Status: resp.StatusCode, Body: resp.Status}
	}

	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64*1024), 4<<20)

	var name string
	var data strings.Builder
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if data.Len() > 0 {
				if err := dispatch(name, data.String(), fn); err != nil {
					return err
				}
			}
			name = ""
			data.Reset()
		case strings.HasPrefix(line, ": subscribed "):
			if opts.OnSubscribed != nil {
				opts.OnSubscribed(strings.TrimPrefix(line, ": subscribed "))
			}
		case strings.HasPrefix(line, ":"):
			// keep-alive comment
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if ctx.Err() != nil {
		return nil
	}
	return sc.Err()
}

func dispatch(name, data string, fn func(Event) error) error {
	ev := Event{Name: name}
	switch name {
	case "new_log":
		var rec StoredRecord
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			return err
		}
		ev.Record = &rec
	case "views":
		var view View
		if err := json.Unmarshal([]byte(data), &view); err != nil {
			return err
		}
		ev.View = &view
	default:
		return nil
	}
	return fn(ev)
}
