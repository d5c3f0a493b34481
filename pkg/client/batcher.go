package client

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrClosed is returned by Flush after Close.
var ErrClosed = errors.New("client closed")

// Enqueue queues rec for background delivery. It never blocks; when the
// queue is full the record is dropped and false is returned.
func (c *Client) Enqueue(rec Record) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.queue <- rec:
		return true
	default:
		c.dropped.Add(1)
		return false
	}
}

// Dropped is the number of records Enqueue discarded.
func (c *Client) Dropped() uint64 { return c.dropped.Load() }

// Flush sends everything queued so far and waits for the result.
func (c *Client) Flush(ctx context.Context) error {
	res := make(chan error, 1)
	select {
	case c.flushCh <- res:
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-res:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close flushes the queue and stops the background loop.
func (c *Client) Close() {
	c.once.Do(func() { close(c.done) })
	c.wg.Wait()
}

func (c *Client) runLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.opts.FlushInterval)
	defer ticker.Stop()

	var batch []Record

	send := func() error {
		if len(batch) == 0 {
			return nil
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, err := c.Send(ctx, batch)
		if err != nil {
			err = fmt.Errorf("send batch of %d: %w", len(batch), err)
			c.opts.OnError(err)
		}
		batch = nil
		return err
	}
	// drain sends everything queued, in BatchSize chunks, and returns the first error.
	drain := func() error {
		var first error
		for {
			select {
			case rec := <-c.queue:
				batch = append(batch, rec)
				if len(batch) < c.opts.BatchSize {
					continue
				}
			default:
			}
			if err := send(); err != nil && first == nil {
				first = err
			}
			if len(c.queue) == 0 {
				return first
			}
		}
	}

	for {
		select {
		case rec := <-c.queue:
			batch = append(batch, rec)
			if len(batch) >= c.opts.BatchSize {
				send()
			}
		case <-ticker.C:
			send()
		case res := <-c.flushCh:
			res <- drain()
		case <-c.done:
			drain()
			return
		}
	}
}
