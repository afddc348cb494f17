// Command triesync drives a single state-sync run: given a target state
// root, it pulls every trie node and code blob reachable from that root
// through a pluggable HTTP fetcher and persists them to a local store.
//
// Usage:
//
//	triesync sync --root 0x... [flags]
//
// Flags:
//
//	--datadir        Data directory path (default: ./datadir)
//	--db             Storage backend: memory, leveldb (default: leveldb)
//	--cache-mb       Read-through cache size per store, in MB (default: 64)
//	--block-number   Block number to tag committed nodes with (default: 0)
//	--batch-size     Max hashes pulled from the scheduler per round
//	--flush-every    Commits between forced mid-run flushes
//	--nodes-url      HTTP endpoint serving trie node batches
//	--code-url       HTTP endpoint serving code batches
//	--metrics-addr   Address to serve /metrics on (empty disables it)
//	--log-level      debug, info, warn, error (default: info)
//	--log-format     json, text, color (default: json)
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/eth2030/triesync/core/rawdb"
	"github.com/eth2030/triesync/core/types"
	"github.com/eth2030/triesync/log"
	"github.com/eth2030/triesync/metrics"
	"github.com/eth2030/triesync/storage"
	"github.com/eth2030/triesync/sync"
)

var (
	version = "v0.1.0-dev"
	commit  = "unknown"
)

func main() {
	app := newApp()
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "triesync: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "triesync",
		Usage:   "pull-based state-sync scheduler for an MPT-backed chain client",
		Version: fmt.Sprintf("%s (commit %s)", version, commit),
		Commands: []*cli.Command{
			syncCommand(),
		},
	}
}

func syncCommand() *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "sync every trie node and code blob reachable from a target root",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "root", Required: true, Usage: "target state-root hash, 0x-prefixed"},
			&cli.StringFlag{Name: "datadir", Value: "./datadir", Usage: "data directory path"},
			&cli.StringFlag{Name: "db", Value: "leveldb", Usage: "storage backend: memory, leveldb"},
			&cli.IntFlag{Name: "cache-mb", Value: 64, Usage: "read-through cache size per store, in MB"},
			&cli.Uint64Flag{Name: "block-number", Value: 0, Usage: "block number to tag committed nodes with"},
			&cli.IntFlag{Name: "batch-size", Value: sync.DefaultBatchSize, Usage: "max hashes pulled from the scheduler per round"},
			&cli.IntFlag{Name: "flush-every", Value: sync.DefaultFlushEvery, Usage: "commits between forced mid-run flushes"},
			&cli.StringFlag{Name: "nodes-url", Required: true, Usage: "HTTP endpoint serving trie node batches"},
			&cli.StringFlag{Name: "code-url", Required: true, Usage: "HTTP endpoint serving code batches"},
			&cli.StringFlag{Name: "metrics-addr", Value: "", Usage: "address to serve /metrics on (empty disables it)"},
			&cli.StringFlag{Name: "log-level", Value: "info", Usage: "debug, info, warn, error"},
			&cli.StringFlag{Name: "log-format", Value: "json", Usage: "json, text, color"},
		},
		Action: runSync,
	}
}

func runSync(c *cli.Context) error {
	logger := log.NewWithFormat(parseLogLevel(c.String("log-level")), c.String("log-format"), os.Stderr).Module("triesync")
	log.SetDefault(logger)

	root := types.HexToHash(c.String("root"))
	if root.IsZero() && c.String("root") != "0x0000000000000000000000000000000000000000000000000000000000000000" {
		logger.Warn("root hash parsed to zero value, double check --root", "raw", c.String("root"))
	}

	db, err := openDatabase(c.String("db"), c.String("datadir"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	cacheBytes := c.Int("cache-mb") * 1024 * 1024
	store := storage.New(db, cacheBytes)

	if addr := c.String("metrics-addr"); addr != "" {
		go serveMetrics(logger, addr)
	}

	fetcher := newHTTPFetcher(&http.Client{Timeout: 30 * time.Second}, c.String("nodes-url"), c.String("code-url"))

	driver := sync.NewDriver(store, fetcher,
		sync.WithBatchSize(c.Int("batch-size")),
		sync.WithFlushEvery(c.Int("flush-every")),
		sync.WithLogger(logger),
		sync.WithMetrics(metrics.DefaultRegistry),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go reportProgress(ctx, logger, driver)

	logger.Info("starting sync", "root", root, "datadir", c.String("datadir"), "db", c.String("db"))
	if err := driver.Run(ctx, root, c.Uint64("block-number")); err != nil {
		return fmt.Errorf("sync run: %w", err)
	}

	snap := driver.Progress()
	logger.Info("sync finished", "stage", snap.Stage.String(), "nodes", snap.NodesCommitted, "code", snap.CodeCommitted, "bytes", snap.BytesDownloaded)
	return nil
}

func openDatabase(backend, datadir string) (rawdb.Database, error) {
	switch backend {
	case "memory":
		return rawdb.NewMemoryDB(), nil
	case "leveldb":
		if err := os.MkdirAll(datadir, 0o755); err != nil {
			return nil, fmt.Errorf("create datadir: %w", err)
		}
		return rawdb.OpenLevelDB(datadir+"/triesync", 256, 512)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", backend)
	}
}

func serveMetrics(logger *log.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(metrics.DefaultRegistry))
	logger.Info("serving metrics", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("metrics server exited", "err", err)
	}
}

func reportProgress(ctx context.Context, logger *log.Logger, driver *sync.Driver) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := driver.Progress()
			logger.Info("sync progress",
				"stage", snap.Stage.String(),
				"nodes", snap.NodesCommitted,
				"code", snap.CodeCommitted,
				"pending", snap.PendingRequests,
				"percent", snap.PercentComplete,
			)
		}
	}
}

func parseLogLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
