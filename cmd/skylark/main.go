package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v2"

	"skylark/internal/core/collect"
	"skylark/internal/core/engine"
	"skylark/internal/core/posts"
	"skylark/internal/core/status"
	"skylark/internal/db/sqlite"
	"skylark/internal/providers"
	_ "skylark/internal/providers/bluesky"
)

func main() {
	app := &cli.App{
		Name:  "skylark",
		Usage: "collect and query social media posts",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "database",
				Usage:   "database URL (path, sqlite://:memory: or sqlite:///path)",
				Value:   "skylark.db",
				EnvVars: []string{"DATABASE_URL"},
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "enable debug logging",
			},
		},
		Before: func(c *cli.Context) error {
			level := slog.LevelInfo
			if c.Bool("debug") {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
			return nil
		},
		Commands: []*cli.Command{
			collectCommand(),
			queryCommand(),
			statusCommand(),
			providersCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func openEngine(c *cli.Context) (*engine.Engine, error) {
	store, err := sqlite.Open(c.String("database"))
	if err != nil {
		return nil, err
	}
	return engine.New(store), nil
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func collectCommand() *cli.Command {
	return &cli.Command{
		Name:  "collect",
		Usage: "run one ingestion pass for a provider scope",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "provider", Value: "bluesky", Usage: "provider name"},
			&cli.StringFlag{Name: "source", Usage: "account handle or DID to collect"},
			&cli.StringFlag{Name: "q", Usage: "search query to collect"},
			&cli.StringFlag{Name: "since", Usage: "skip items created before this time (RFC 3339)"},
			&cli.StringFlag{Name: "until", Usage: "skip items created after this time (RFC 3339)"},
			&cli.IntFlag{Name: "page-limit", Usage: "items requested per page (1-100)"},
			&cli.IntFlag{Name: "limit", Usage: "total item budget for this run"},
			&cli.StringFlag{Name: "identifier", Usage: "provider account identifier"},
			&cli.StringFlag{Name: "password", Usage: "provider app password"},
		},
		Action: func(c *cli.Context) error {
			e, err := openEngine(c)
			if err != nil {
				return err
			}
			defer e.Close()

			req := collect.Request{
				Provider:  c.String("provider"),
				Source:    c.String("source"),
				Q:         c.String("q"),
				Since:     c.String("since"),
				Until:     c.String("until"),
				PageLimit: c.Int("page-limit"),
				Options: providers.Options{
					Auth: providers.AuthOptions{
						Identifier: c.String("identifier"),
						Password:   c.String("password"),
					},
				},
			}
			if c.IsSet("limit") {
				limit := c.Int("limit")
				req.Limit = &limit
			}

			report, err := e.Collect(c.Context, req)
			if err != nil {
				return err
			}
			return printJSON(report)
		},
	}
}

func queryCommand() *cli.Command {
	return &cli.Command{
		Name:  "query",
		Usage: "read stored posts, newest first",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "provider", Usage: "restrict to one provider"},
			&cli.StringFlag{Name: "since", Usage: "created at or after (RFC 3339)"},
			&cli.StringFlag{Name: "until", Usage: "created at or before (RFC 3339)"},
			&cli.StringFlag{Name: "author", Usage: "author handle (@...), external id or row id"},
			&cli.StringFlag{Name: "contains", Usage: "case-insensitive text match"},
			&cli.IntFlag{Name: "limit", Usage: "page size"},
			&cli.StringFlag{Name: "after-key", Usage: "continuation token from a previous page"},
			&cli.StringSliceFlag{Name: "project", Usage: "fields to return"},
		},
		Action: func(c *cli.Context) error {
			e, err := openEngine(c)
			if err != nil {
				return err
			}
			defer e.Close()

			page, err := e.Query(c.Context, "posts", posts.QueryRequest{
				Provider: c.String("provider"),
				Since:    c.String("since"),
				Until:    c.String("until"),
				Author:   c.String("author"),
				Contains: c.String("contains"),
				Limit:    c.Int("limit"),
				AfterKey: c.String("after-key"),
				Project:  c.StringSlice("project"),
			})
			if err != nil {
				return err
			}
			return printJSON(page)
		},
	}
}

func statusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "show stored cursors and recent fetch jobs",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "provider", Usage: "restrict to one provider"},
			&cli.StringFlag{Name: "source", Usage: "restrict to one source descriptor"},
			&cli.IntFlag{Name: "limit-jobs", Usage: "number of recent jobs to show"},
		},
		Action: func(c *cli.Context) error {
			e, err := openEngine(c)
			if err != nil {
				return err
			}
			defer e.Close()

			snapshot, err := e.Status(c.Context, status.Request{
				Provider:  c.String("provider"),
				Source:    c.String("source"),
				LimitJobs: c.Int("limit-jobs"),
			})
			if err != nil {
				return err
			}
			return printJSON(snapshot)
		},
	}
}

func providersCommand() *cli.Command {
	return &cli.Command{
		Name:  "providers",
		Usage: "list registered providers",
		Action: func(_ *cli.Context) error {
			return printJSON(map[string]any{
				"providers": providers.Default().Available(),
			})
		},
	}
}
