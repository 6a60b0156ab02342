package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/kennylajara/news/internal/config"
	"github.com/kennylajara/news/internal/pipeline"
	"github.com/kennylajara/news/internal/store"
	"github.com/kennylajara/news/pkg/logger"
	"github.com/kennylajara/news/pkg/logger/console"
)

// app is the state shared by every subcommand of one invocation.
type app struct {
	configPath string
	dbPath     string
	debug      bool
	asJSON     bool

	cfg   config.Config
	store *store.SQLiteStore
	svc   *pipeline.Service
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "newsrank",
		Short: "Resolve and rank the entities of a news corpus",
		Long: `newsrank ingests recognizer output, resolves duplicate entity names
into canonical identities, allocates per-article relevance and ranks
entities globally with PageRank over the co-occurrence graph.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.open(cmd.Context())
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			return a.close()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&a.configPath, "config", "c", "", "YAML configuration file")
	flags.StringVar(&a.dbPath, "db", "", "SQLite database path (overrides config)")
	flags.BoolVar(&a.debug, "debug", false, "Enable debug logging")
	flags.BoolVar(&a.asJSON, "json", false, "Print results as JSON")

	root.AddCommand(
		newIngestCmd(a),
		newCandidatesCmd(a),
		newReviewCmd(a),
		newClassifyCmd(a),
		newAllocateCmd(a),
		newRankCmd(a),
		newShowCmd(a),
	)
	return root
}

func (a *app) open(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.dbPath != "" {
		cfg.DatabasePath = a.dbPath
	}
	if a.debug {
		cfg.Debug = true
	}
	a.cfg = cfg
	logger.Init(console.NewConsoleLogger(console.ConsoleLoggerParams{Debug: cfg.Debug, Prefix: "newsrank"}))

	a.store, err = store.NewSQLiteStoreWithDSN(cfg.DatabasePath)
	if err != nil {
		return err
	}
	a.svc, err = pipeline.New(ctx, cfg, a.store)
	if err != nil {
		a.store.Close()
		return err
	}
	return nil
}

func (a *app) close() error {
	if a.store == nil {
		return nil
	}
	return a.store.Close()
}

// print writes v as indented JSON when --json is set, otherwise calls text.
func (a *app) print(w io.Writer, v any, text func(io.Writer)) error {
	if a.asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(w)
	return nil
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}

func parseIDs(args []string) ([]int64, error) {
	out := make([]int64, 0, len(args))
	for _, s := range args {
		id, err := parseID(s)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}
