package main

import (
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"

	"github.com/Arshal-Agarwal/SIEM-Dashboard-Final/internal/config"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	var err error

	switch cmd {
	case "serve":
		err = serveCommand(os.Args[2:])
	case "validate":
		err = validateCommand(os.Args[2:])
	case "watch":
		err = watchCommand(os.Args[2:])
	case "send":
		err = sendCommand(os.Args[2:])
	case "hash-token":
		err = hashTokenCommand(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		printUsage()
		err = fmt.Errorf("unknown command %q", cmd)
	}

	if err != nil {
		log.Fatalf("siemd %s: %v", cmd, err)
	}
}

func setupLogging(cfg config.LogConfig) {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if cfg.Format == "json" {
		h = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		h = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(h))
}

func printUsage() {
	fmt.Printf(`siemd: log ingestion, threat classification and live broadcast

Usage:
  siemd <command> [flags]

Commands:
  serve       Start the HTTP server (ingest, query, stream, health)
  validate    Load and validate a config file without starting the server
  watch       Follow the live stream in the terminal with threat aggregates
  send        Post a JSON array of records to a server
  hash-token  Print a bcrypt hash for server.ingest_token_hash

Examples:
  siemd serve -config ./siemd.yaml
  siemd validate -config ./siemd.yaml
  siemd watch -url http://localhost:5000
  siemd send -url http://localhost:5000 -file ./logs.json
  siemd hash-token my-ingest-token
`)
}
