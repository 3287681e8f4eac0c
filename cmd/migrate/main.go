package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sitelift/sitelift/internal/app/migrate"
	"github.com/sitelift/sitelift/pkg/config"
	"github.com/sitelift/sitelift/pkg/logger"
)

const usage = `usage: migrate <command> [args]

commands:
  up             apply all pending migrations
  status         print migration status
  down [target]  roll back the latest migration, or down to target version`

func main() {
	flag.Usage = func() { fmt.Fprintln(os.Stderr, usage) }
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}
	command := flag.Arg(0)

	cfg := config.LoadAPIConfig()
	log := logger.New("migrate", slog.LevelInfo)
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		fatal(log, "failed to connect to database", err)
	}
	runner, err := migrate.New(pool, cfg.DatabaseURL, log)
	if err != nil {
		fatal(log, "failed to configure migration runner", err)
	}
	defer runner.Close()

	switch command {
	case "up":
		err = runner.Ensure(ctx)
	case "status":
		err = runner.Status(ctx)
	case "down":
		var target int64
		if flag.NArg() > 1 {
			if _, scanErr := fmt.Sscanf(flag.Arg(1), "%d", &target); scanErr != nil {
				fatal(log, "invalid target version", scanErr)
			}
		}
		err = runner.Down(ctx, target)
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		fatal(log, "migration command failed", err)
	}
	log.Info("migration command completed", "command", command)
}

func fatal(log *slog.Logger, msg string, err error) {
	log.Error(msg, "error", err)
	os.Exit(1)
}
