package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/Arshal-Agarwal/SIEM-Dashboard-Final/internal/taxonomy"
	"github.com/Arshal-Agarwal/SIEM-Dashboard-Final/internal/views"
	"github.com/Arshal-Agarwal/SIEM-Dashboard-Final/pkg/client"
)

func sendCommand(args []string) error {
	fs := flag.NewFlagSet("send", flag.ExitOnError)
	url := fs.String("url", "http://localhost:5000", "siemd server URL")
	token := fs.String("token", os.Getenv("SIEMD_TOKEN"), "Ingest bearer token")
	file := fs.String("file", "-", "JSON array of records, - for stdin")
	timeout := fs.Duration("timeout", 10*time.Second, "Request timeout")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var in io.Reader = os.Stdin
	if *file != "-" {
		f, err := os.Open(*file)
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}

	var recs []client.Record
	if err := json.NewDecoder(in).Decode(&recs); err != nil {
		return fmt.Errorf("decode records: %w", err)
	}

	c := client.New(client.Options{ServerURL: *url, Token: *token})
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	n, err := c.Send(ctx, recs)
	if err != nil {
		return err
	}
	fmt.Printf("stored %d records\n", n)
	return nil
}

func watchCommand(args []string) error {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	url := fs.String("url", "http://localhost:5000", "siemd server URL")
	window := fs.Int("window", views.DefaultWindowSize, "Records kept in the recent window")
	threats := fs.String("threats", strings.Join(taxonomy.DefaultThreats, ","), "Comma-separated threat types")
	tz := fs.String("tz", "Local", "Time zone for timestamps")
	if err := fs.Parse(args); err != nil {
		return err
	}
	loc, err := time.LoadLocation(*tz)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c := client.New(client.Options{ServerURL: *url})
	defer c.Close()

	// The snapshot is loaded only after the server has registered the
	// stream, so records stored in between arrive as events.
	events := make(chan client.StoredRecord, 1024)
	subscribed := make(chan struct{})
	subErr := make(chan error, 1)
	go func() {
		defer close(events)
		opts := client.SubscribeOptions{
			Client:       "siemd-watch",
			OnSubscribed: func(string) { close(subscribed) },
		}
		subErr <- c.Subscribe(ctx, opts, func(ev client.Event) error {
			if ev.Record != nil {
				select {
				case events <- *ev.Record:
				case <-ctx.Done():
				}
			}
			return nil
		})
	}()

	select {
	case <-subscribed:
	case err := <-subErr:
		if err == nil {
			err = errors.New("stream closed before subscription")
		}
		return fmt.Errorf("subscribe: %w", err)
	case <-ctx.Done():
		return nil
	}

	if snap, err := c.SystemHealth(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "system health unavailable: %v\n", err)
	} else {
		fmt.Printf("%s (%s) cpu=%.2f%% mem=%.2f%% disk=%.2f%%\n", snap.System.Hostname, snap.System.Platform,
			snap.CPU.Usage, snap.Memory.UsedPercentage, snap.Disk.UsedPercentage)
	}

	tax := taxonomy.New(strings.Split(*threats, ",")...)
	eng := views.New(tax, views.Options{WindowSize: *window, Location: loc})

	snapshot, err := c.Recent(ctx, 100, "")
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}
	eng.Load(snapshot)
	var loaded uint64
	if len(snapshot) > 0 {
		loaded = snapshot[0].ID
	}

	out := bufio.NewWriter(os.Stdout)
	printSummary(out, eng.View())
	out.Flush()

	for rec := range events {
		if rec.ID <= loaded {
			continue
		}
		eng.Apply(rec)

		mark := " "
		if eng.IsThreat(rec) {
			mark = "!"
		}
		fmt.Fprintf(out, "%s #%d %-22s %-8s %s  %s\n", mark, rec.ID, rec.AnomalyType, rec.Severity,
			views.FormatTimestamp(rec.Timestamp, time.Now(), loc), rec.Content())
		printSummary(out, eng.View())
		out.Flush()
	}

	if err := <-subErr; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func printSummary(w io.Writer, v views.View) {
	fmt.Fprintf(w, "  total=%d threats=%d (%s%%) normal=%d (%s%%)", v.Total, v.ThreatCount, v.ThreatPercent, v.NonThreatCount, v.NonThreatPercent)
	if n := len(v.CumulativeThreats); n > 0 {
		fmt.Fprintf(w, " window=%d cumulative=%d", n, v.CumulativeThreats[n-1])
	}
	fmt.Fprintln(w)
}

func hashTokenCommand(args []string) error {
	fs := flag.NewFlagSet("hash-token", flag.ExitOnError)
	cost := fs.Int("cost", bcrypt.DefaultCost, "bcrypt cost")
	if err := fs.Parse(args); err != nil {
		return err
	}

	token := fs.Arg(0)
	if token == "" {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		token = strings.TrimSpace(line)
	}
	if token == "" {
		return errors.New("token is required")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(token), *cost)
	if err != nil {
		return err
	}
	fmt.Println(string(hash))
	return nil
}
