package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/urfave/cli/v2"

	"Currents/internal/api/routes"
	"Currents/internal/core/feeds"
	"Currents/internal/db/sqlite"
	"Currents/internal/remote"
)

func main() {
	app := &cli.App{
		Name:  "currents",
		Usage: "local feed cache engine",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "db",
				Usage:   "path to the cache database",
				Value:   "currents.db",
				EnvVars: []string{"CURRENTS_DB"},
			},
			&cli.StringFlag{
				Name:    "api-url",
				Usage:   "base URL of the remote feed API",
				Value:   "http://localhost:8080",
				EnvVars: []string{"CURRENTS_API_URL"},
			},
			&cli.StringFlag{
				Name:    "token",
				Usage:   "bearer token for authenticated calls",
				EnvVars: []string{"CURRENTS_TOKEN"},
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "serve cached feed pages over HTTP",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "port",
						Value:   "8081",
						EnvVars: []string{"CURRENTS_PORT"},
					},
				},
				Action: runServe,
			},
			{
				Name:  "sync",
				Usage: "refresh a feed from the server",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "feed", Required: true, Usage: "feed id to sync"},
					&cli.IntFlag{Name: "page-size", Value: 15},
					&cli.BoolFlag{Name: "all", Usage: "page until the server reports no more data"},
				},
				Action: runSync,
			},
			{
				Name:   "gc",
				Usage:  "delete cached content referenced by no feed",
				Action: runGC,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func buildManager(c *cli.Context, logger *slog.Logger) (*feeds.Manager, func(), error) {
	db, err := sqlite.Open(c.String("db"))
	if err != nil {
		return nil, nil, err
	}

	ordering := sqlite.NewOrderingRepository(db)
	contents := sqlite.NewContentRepository(db)
	client := remote.NewClient(c.String("api-url"), c.String("token"), logger)

	opts := feeds.FetchOptions{IncludeAggregates: true, IncludeUserInteractions: true}
	manager := feeds.NewManager(ordering, contents, client, opts, logger)
	return manager, func() { db.Close() }, nil
}

func runServe(c *cli.Context) error {
	logger := slog.Default()
	manager, closeDB, err := buildManager(c, logger)
	if err != nil {
		return err
	}
	defer closeDB()

	r := chi.NewRouter()
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.RequestID)

	routes.RegisterFeedCacheRoutes(r, manager, logger)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	addr := ":" + c.String("port")
	logger.Info("serving cached feeds", "addr", addr, "db", c.String("db"))
	return http.ListenAndServe(addr, r)
}

func runSync(c *cli.Context) error {
	logger := slog.Default()
	manager, closeDB, err := buildManager(c, logger)
	if err != nil {
		return err
	}
	defer closeDB()

	feed := manager.Feed(c.String("feed"), feeds.NewestFirst)
	pageSize := c.Int("page-size")

	start := time.Now()
	if err := feed.Refresh(c.Context, pageSize); err != nil {
		return fmt.Errorf("refresh failed: %w", err)
	}
	if c.Bool("all") {
		if err := feed.FetchAll(c.Context, pageSize, ""); err != nil {
			return fmt.Errorf("fetch-all failed: %w", err)
		}
	}

	items, _ := feed.Items()
	logger.Info("feed synced",
		"feed", feed.ID(),
		"items", len(items),
		"hasMore", feed.HasMoreData(),
		"took", time.Since(start))
	return nil
}

func runGC(c *cli.Context) error {
	logger := slog.Default()
	manager, closeDB, err := buildManager(c, logger)
	if err != nil {
		return err
	}
	defer closeDB()

	return manager.Cleanup(c.Context)
}
