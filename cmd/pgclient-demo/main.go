// Command pgclient-demo wires config, pool, a prepared statement, and a
// cursor together end to end, the same shape as the teacher's
// cmd/dbbouncer/main.go but for a single direct backend instead of a
// multi-tenant proxy.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/pgwireclient/pgclient"
	"github.com/pgwireclient/pgclient/config"
	"github.com/pgwireclient/pgclient/metrics"
	"github.com/pgwireclient/pgclient/pool"
	"github.com/pgwireclient/pgclient/statusserver"
)

func main() {
	configPath := flag.String("config", "configs/pgclient.yaml", "path to configuration file")
	statusAddr := flag.String("status-addr", "127.0.0.1:8080", "address for the status/metrics HTTP server")
	query := flag.String("query", "SELECT 1", "query to run once on startup")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("loading config", "error", err)
		os.Exit(1)
	}

	dialOpts, err := cfg.Dial.DialOptions()
	if err != nil {
		logger.Error("building dial options", "error", err)
		os.Exit(1)
	}
	factory := cfg.Dial.ChannelFactory()

	dial := func(ctx context.Context) (*pgclient.Connection, error) {
		return pgclient.Connect(ctx, factory, dialOpts)
	}

	p := pool.NewPool(cfg.Pool.PoolConfig(), dial, logger)
	defer p.Close(false)

	watcher, err := config.NewWatcher(*configPath, p, logger)
	if err != nil {
		logger.Warn("starting config watcher", "error", err)
	} else {
		defer watcher.Stop()
	}

	coll := metrics.New()
	status := statusserver.New(coll, logger)
	status.AddPool("primary", p)
	if err := status.Start(*statusAddr); err != nil {
		logger.Warn("starting status server", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := runQuery(ctx, p, *query, logger); err != nil {
		logger.Error("running startup query", "error", err)
		os.Exit(1)
	}

	<-ctx.Done()
	logger.Info("pgclient-demo: shutting down")
}

func runQuery(ctx context.Context, p *pool.ConnectionPool, sql string, logger *slog.Logger) error {
	return p.WithConnection(ctx, func(conn *pgclient.Connection) error {
		stmt, err := conn.PrepareStatement(ctx, sql)
		if err != nil {
			return err
		}
		defer stmt.Close(ctx)

		cur, err := stmt.Execute(ctx, nil)
		if err != nil {
			return err
		}
		defer cur.Close(ctx)

		rows := 0
		for {
			row, err := cur.Next(ctx)
			if err != nil {
				return err
			}
			if row == nil {
				break
			}
			rows++
		}
		logger.Info("startup query complete", "rows", rows)
		return nil
	})
}
