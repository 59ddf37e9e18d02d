// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/poiesic/docrag"
	"github.com/poiesic/docrag/config"
	"github.com/poiesic/docrag/core"
	"github.com/poiesic/docrag/reindex"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "docrag",
		Usage: "Department-scoped document question answering",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to a YAML config file; DOCRAG_* environment variables override it",
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			{
				Name:      "ingest",
				Usage:     "Upload documents and wait for them to be indexed",
				ArgsUsage: "FILE...",
				Action:    ingestCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "department",
						Aliases: []string{"d"},
						Usage:   "Department that may query the documents",
						Value:   core.DefaultDepartment,
					},
					&cli.BoolFlag{
						Name:  "no-wait",
						Usage: "Return once the documents are accepted",
					},
				},
			},
			{
				Name:      "ask",
				Usage:     "Answer a question from a department's documents",
				ArgsUsage: "QUESTION",
				Action:    askCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "department",
						Aliases: []string{"d"},
						Usage:   "Department whose documents are searched",
						Value:   core.DefaultDepartment,
					},
					&cli.StringFlag{
						Name:  "user",
						Usage: "User id recorded in query history",
					},
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Print the full response as JSON",
					},
				},
			},
			{
				Name:      "search",
				Usage:     "Show the passages nearest to a text without generating an answer",
				ArgsUsage: "TEXT",
				Action:    searchCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "department",
						Aliases: []string{"d"},
						Usage:   "Department whose documents are searched",
						Value:   core.DefaultDepartment,
					},
					&cli.IntFlag{
						Name:  "top-k",
						Usage: "Number of passages to return (0 uses query.top_k)",
					},
				},
			},
			{
				Name:  "documents",
				Usage: "Inspect and delete ingested documents",
				Subcommands: []*cli.Command{
					{
						Name:   "list",
						Usage:  "List documents, newest first",
						Action: listDocumentsCommand,
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:    "department",
								Aliases: []string{"d"},
								Usage:   "Only list documents of this department",
							},
							&cli.IntFlag{
								Name:  "skip",
								Usage: "Number of documents to skip",
							},
							&cli.IntFlag{
								Name:  "limit",
								Usage: "Maximum number of documents to list",
								Value: 50,
							},
						},
					},
					{
						Name:      "get",
						Usage:     "Show a document record",
						ArgsUsage: "ID",
						Action:    getDocumentCommand,
					},
					{
						Name:      "delete",
						Usage:     "Delete a document with its file and vectors",
						ArgsUsage: "ID",
						Action:    deleteDocumentCommand,
					},
				},
			},
			{
				Name:   "history",
				Usage:  "List recent queries",
				Action: historyCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "department",
						Aliases: []string{"d"},
						Usage:   "Only list queries of this department",
					},
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum number of queries to list",
						Value: 20,
					},
				},
			},
			{
				Name:  "pipelines",
				Usage: "Inspect pipeline runs",
				Subcommands: []*cli.Command{
					{
						Name:   "list",
						Usage:  "List pipeline runs, most recent first",
						Action: listPipelinesCommand,
					},
					{
						Name:      "get",
						Usage:     "Show the events of a pipeline run",
						ArgsUsage: "ID",
						Action:    getPipelineCommand,
					},
				},
			},
			{
				Name:   "stats",
				Usage:  "Aggregate pipeline statistics",
				Action: statsCommand,
				Flags: []cli.Flag{
					&cli.DurationFlag{
						Name:  "window",
						Usage: "Only include runs started within this window (0 for all)",
						Value: 24 * time.Hour,
					},
				},
			},
			{
				Name:   "seed",
				Usage:  "Ingest synthetic policy documents for trying out queries",
				Action: seedCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "src",
						Usage: "File of seed sentences, one per line (defaults to a built-in set)",
					},
					&cli.StringFlag{
						Name:    "department",
						Aliases: []string{"d"},
						Usage:   "Department that owns the seeded documents",
						Value:   core.DefaultDepartment,
					},
					&cli.IntFlag{
						Name:  "lines-per-document",
						Usage: "Number of sentences per seeded document",
						Value: 6,
					},
				},
			},
			{
				Name:   "reconcile",
				Usage:  "Resume documents left pending or processing",
				Action: reconcileCommand,
			},
			{
				Name:   "reindex",
				Usage:  "Rebuild the vectors of completed documents",
				Action: reindexCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "department",
						Aliases: []string{"d"},
						Usage:   "Only reindex documents of this department",
					},
					&cli.IntFlag{
						Name:  "batch-size",
						Usage: "Number of documents to process in each batch",
						Value: reindex.DefaultBatchSize,
					},
					&cli.IntFlag{
						Name:  "report-interval",
						Usage: "Report progress every N documents",
						Value: 10,
					},
					&cli.IntFlag{
						Name:  "max-retries",
						Usage: "Maximum retry attempts for failed operations",
						Value: 3,
					},
					&cli.DurationFlag{
						Name:  "retry-delay",
						Usage: "Base delay for exponential backoff",
						Value: 1 * time.Second,
					},
				},
			},
		},
	}
}

// openEngine loads the configuration named by --config and opens an Engine.
func openEngine(c *cli.Context) (*docrag.Engine, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if !c.IsSet("log-level") {
		if err := configureLogger(cfg.Log.Level); err != nil {
			return nil, err
		}
	}
	engine, err := docrag.Open(c.Context, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open engine: %w", err)
	}
	return engine, nil
}

func ingestCommand(c *cli.Context) error {
	if c.NArg() == 0 {
		return errors.New("at least one file is required")
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine, err := openEngine(c)
	if err != nil {
		return err
	}
	defer engine.Close()

	var ids []string
	var errs []error
	for _, path := range c.Args().Slice() {
		data, err := os.ReadFile(path)
		if err != nil {
			errs = append(errs, fmt.Errorf("read %s: %w", path, err))
			continue
		}
		doc, err := engine.SubmitDocument(ctx, data, filepath.Base(path), c.String("department"))
		if err != nil {
			errs = append(errs, fmt.Errorf("submit %s: %w", path, err))
			continue
		}
		fmt.Fprintf(os.Stderr, "Accepted %s as %s (%s)\n", path, doc.ID, doc.Department)
		ids = append(ids, doc.ID)
	}

	if c.Bool("no-wait") || len(ids) == 0 {
		return errors.Join(errs...)
	}

	done := make(chan struct{})
	go func() {
		engine.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "Interrupted; unfinished documents resume on the next reconcile")
		return ctx.Err()
	}

	w := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tFILENAME\tSTATUS\tCHUNKS\tERROR")
	for _, id := range ids {
		doc, err := engine.GetDocument(ctx, id)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", doc.ID, doc.Filename, doc.Status, doc.ChunkCount, doc.ErrorMessage)
		if doc.Status == core.StatusFailed {
			errs = append(errs, fmt.Errorf("%s: %s", doc.Filename, doc.ErrorMessage))
		}
	}
	w.Flush()
	return errors.Join(errs...)
}

func askCommand(c *cli.Context) error {
	question := strings.Join(c.Args().Slice(), " ")
	if strings.TrimSpace(question) == "" {
		return errors.New("a question is required")
	}

	engine, err := openEngine(c)
	if err != nil {
		return err
	}
	defer engine.Close()

	resp, err := engine.Ask(c.Context, question, c.String("department"), c.String("user"))
	if err != nil {
		return fmt.Errorf("query failed: %w", err)
	}
	if c.Bool("json") {
		return printJSON(c.App.Writer, resp)
	}

	out := c.App.Writer
	fmt.Fprintln(out, resp.Answer)
	if len(resp.Sources) > 0 {
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Sources:")
		for _, src := range resp.Sources {
			if src.Page > 0 {
				fmt.Fprintf(out, "  %s, page %d (%.3f)\n", src.DocumentName, src.Page, src.RelevanceScore)
			} else {
				fmt.Fprintf(out, "  %s (%.3f)\n", src.DocumentName, src.RelevanceScore)
			}
		}
	}
	if resp.Status != core.QueryOK {
		fmt.Fprintf(os.Stderr, "Query status: %s\n", resp.Status)
	}
	return nil
}

func searchCommand(c *cli.Context) error {
	text := strings.Join(c.Args().Slice(), " ")
	if strings.TrimSpace(text) == "" {
		return errors.New("search text is required")
	}

	engine, err := openEngine(c)
	if err != nil {
		return err
	}
	defer engine.Close()

	matches, err := engine.Search(c.Context, text, c.String("department"), c.Int("top-k"))
	if err != nil {
		return err
	}
	out := c.App.Writer
	fmt.Fprintf(out, "Found %d hits\n", len(matches))
	for i, hit := range matches {
		fmt.Fprintf(out, "%d: '%s' (%s #%d)[%0.3f]\n", i, hit.Text, hit.DocumentName, hit.Ordinal, hit.Score)
	}
	return nil
}

func listDocumentsCommand(c *cli.Context) error {
	engine, err := openEngine(c)
	if err != nil {
		return err
	}
	defer engine.Close()

	docs, total, err := engine.ListDocuments(c.Context, c.String("department"), c.Int("skip"), c.Int("limit"))
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tFILENAME\tDEPARTMENT\tSTATUS\tCHUNKS\tCREATED")
	for _, doc := range docs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n", doc.ID, doc.Filename, doc.Department, doc.Status,
			doc.ChunkCount, doc.CreatedAt.Format(time.RFC3339))
	}
	w.Flush()
	fmt.Fprintf(os.Stderr, "%d of %d documents\n", len(docs), total)
	return nil
}

func getDocumentCommand(c *cli.Context) error {
	id, err := requireID(c)
	if err != nil {
		return err
	}
	engine, err := openEngine(c)
	if err != nil {
		return err
	}
	defer engine.Close()

	doc, err := engine.GetDocument(c.Context, id)
	if err != nil {
		return err
	}
	return printJSON(c.App.Writer, doc)
}

func deleteDocumentCommand(c *cli.Context) error {
	id, err := requireID(c)
	if err != nil {
		return err
	}
	engine, err := openEngine(c)
	if err != nil {
		return err
	}
	defer engine.Close()

	if err := engine.DeleteDocument(c.Context, id); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Deleted %s\n", id)
	return nil
}

func historyCommand(c *cli.Context) error {
	engine, err := openEngine(c)
	if err != nil {
		return err
	}
	defer engine.Close()

	entries, err := engine.ListHistory(c.Context, c.String("department"), c.Int("limit"))
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "CREATED\tDEPARTMENT\tSTATUS\tMS\tQUERY")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", e.CreatedAt.Format(time.RFC3339), e.Department, e.Status,
			e.ProcessingTimeMS, e.QueryText)
	}
	return w.Flush()
}

func listPipelinesCommand(c *cli.Context) error {
	engine, err := openEngine(c)
	if err != nil {
		return err
	}
	defer engine.Close()

	runs, err := engine.ListPipelines(c.Context)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSUBJECT\tSTARTED\tEVENTS\tSTATE")
	for _, r := range runs {
		state := "running"
		switch {
		case r.Failed:
			state = "failed"
		case r.Finished:
			state = "finished"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", r.ID, r.SubjectID, r.StartedAt.Format(time.RFC3339), r.EventCount, state)
	}
	return w.Flush()
}

func getPipelineCommand(c *cli.Context) error {
	id, err := requireID(c)
	if err != nil {
		return err
	}
	engine, err := openEngine(c)
	if err != nil {
		return err
	}
	defer engine.Close()

	run, err := engine.GetPipeline(c.Context, id)
	if err != nil {
		return err
	}
	return printJSON(c.App.Writer, run)
}

func statsCommand(c *cli.Context) error {
	engine, err := openEngine(c)
	if err != nil {
		return err
	}
	defer engine.Close()

	stats, err := engine.GetStats(c.Context, c.Duration("window"))
	if err != nil {
		return err
	}
	return printJSON(c.App.Writer, stats)
}

func reconcileCommand(c *cli.Context) error {
	engine, err := openEngine(c)
	if err != nil {
		return err
	}
	defer engine.Close()

	n, err := engine.Reconcile(c.Context)
	if err != nil {
		return fmt.Errorf("reconciliation failed: %w", err)
	}
	engine.Wait()
	fmt.Fprintf(os.Stderr, "Resumed %d documents\n", n)
	return nil
}

func reindexCommand(c *cli.Context) error {
	cfg := reindex.DefaultConfig()
	cfg.ChunkSize = 0
	cfg.EmbedBatchSize = 0
	cfg.Department = c.String("department")
	cfg.BatchSize = c.Int("batch-size")
	cfg.ReportInterval = c.Int("report-interval")
	cfg.MaxRetries = c.Int("max-retries")
	cfg.RetryDelay = c.Duration("retry-delay")

	if cfg.BatchSize <= 0 {
		return fmt.Errorf("batch-size must be greater than 0")
	}
	if cfg.ReportInterval <= 0 {
		return fmt.Errorf("report-interval must be greater than 0")
	}
	if cfg.MaxRetries <= 0 {
		return fmt.Errorf("max-retries must be greater than 0")
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine, err := openEngine(c)
	if err != nil {
		return err
	}
	defer engine.Close()

	if _, err := engine.Reindex(ctx, cfg, os.Stderr); err != nil {
		return fmt.Errorf("reindex failed: %w", err)
	}
	return nil
}

func requireID(c *cli.Context) (string, error) {
	if c.NArg() != 1 {
		return "", errors.New("exactly one ID is required")
	}
	return c.Args().First(), nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func setupLogger(c *cli.Context) error {
	return configureLogger(c.String("log-level"))
}

func configureLogger(levelStr string) error {
	levelStr = strings.ToLower(levelStr)

	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", levelStr)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	return nil
}
