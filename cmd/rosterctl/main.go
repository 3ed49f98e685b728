// Command rosterctl drives the roster import pipeline from a terminal. It
// reads the same environment as the server and talks to Postgres directly.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/JonMunkholm/roster/internal/admin"
	"github.com/JonMunkholm/roster/internal/config"
	"github.com/JonMunkholm/roster/internal/core"
	"github.com/JonMunkholm/roster/internal/database"
	"github.com/JonMunkholm/roster/internal/dictionary"
	"github.com/JonMunkholm/roster/internal/logging"
	"github.com/JonMunkholm/roster/internal/store/postgres"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(openPostgres).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// openPostgres builds the production env: config from the environment (and
// .env when present), logs on stderr, the pgx pool and the sqlx dictionary.
func openPostgres(ctx context.Context) (*env, error) {
	_ = godotenv.Overload()

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logging.New(os.Stderr, cfg.Logging.Level, cfg.Logging.Format))

	pool, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	dict, err := dictionary.Open(ctx, cfg.Database.URL)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("open column dictionary: %w", err)
	}

	return &env{
		service: core.NewService(postgres.New(pool), dict, cfg.ServiceOptions()),
		reset:   &admin.ResetDbs{DB: pool},
		close: func() {
			_ = dict.Close()
			pool.Close()
		},
	}, nil
}
