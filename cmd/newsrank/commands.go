package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kennylajara/news/internal/store"
	"github.com/kennylajara/news/pkg/candidates"
	"github.com/kennylajara/news/pkg/entity"
	"github.com/kennylajara/news/pkg/resolution"
)

// =============================================================================
// ingest
// =============================================================================

func newIngestCmd(a *app) *cobra.Command {
	var allocate bool
	cmd := &cobra.Command{
		Use:   "ingest [file...]",
		Short: "Ingest articles with their recognized mentions",
		Long: `Reads one or more JSON ingest requests (an article plus its recognizer
mentions) from the given files, or from stdin when none or "-" is given.
Requests may be concatenated or newline-delimited.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				args = []string{"-"}
			}
			var results []store.IngestResult
			for _, path := range args {
				r, err := a.ingestFile(cmd, path)
				results = append(results, r...)
				if err != nil {
					return err
				}
			}
			if allocate {
				if _, err := a.svc.Allocate(cmd.Context()); err != nil {
					return err
				}
			}
			return a.print(cmd.OutOrStdout(), results, func(w io.Writer) {
				for _, r := range results {
					fmt.Fprintf(w, "article %d: %d entities, %d new\n", r.ArticleID, len(r.EntityIDs), len(r.Created))
				}
			})
		},
	}
	cmd.Flags().BoolVar(&allocate, "allocate", false, "Drain the relevance queue after ingesting")
	return cmd
}

func (a *app) ingestFile(cmd *cobra.Command, path string) ([]store.IngestResult, error) {
	var r io.Reader = cmd.InOrStdin()
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}

	var out []store.IngestResult
	dec := json.NewDecoder(r)
	for {
		var req store.IngestRequest
		err := dec.Decode(&req)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, fmt.Errorf("%s: %w", path, err)
		}
		res, err := a.svc.Ingest(cmd.Context(), req)
		if err != nil {
			return out, fmt.Errorf("%s: %w", path, err)
		}
		out = append(out, res)
	}
}

// =============================================================================
// candidates
// =============================================================================

func newCandidatesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "candidates <entity-id>...",
		Short: "List possible matches for entities",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			found, err := a.svc.Discover(cmd.Context(), ids)
			if err != nil {
				return err
			}
			return a.print(cmd.OutOrStdout(), found, func(w io.Writer) {
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ENTITY\tCANDIDATE\tNAME\tKIND\tSIMILARITY")
				for _, id := range ids {
					for _, c := range found[id] {
						fmt.Fprintf(tw, "%d\t%d\t%s\t%s\t%s\n", id, c.ID, c.Name, c.Kind, similarity(c))
					}
				}
				tw.Flush()
			})
		},
	}
}

func similarity(c candidates.Candidate) string {
	if c.Kind != candidates.KindMinHash {
		return "-"
	}
	return fmt.Sprintf("%.3f", c.Similarity)
}

// =============================================================================
// review
// =============================================================================

func newReviewCmd(a *app) *cobra.Command {
	var (
		pending bool
		limit   int
	)
	cmd := &cobra.Command{
		Use:   "review [entity-id...]",
		Short: "Classify entities against their candidates with the rule policy",
		RunE: func(cmd *cobra.Command, args []string) error {
			var results []resolution.ReviewResult
			switch {
			case pending:
				var err error
				if results, err = a.svc.ReviewPending(cmd.Context(), limit); err != nil {
					return err
				}
			case len(args) > 0:
				ids, err := parseIDs(args)
				if err != nil {
					return err
				}
				for _, id := range ids {
					res, err := a.svc.Review(cmd.Context(), id)
					if err != nil {
						return err
					}
					results = append(results, res)
				}
			default:
				return errors.New("give entity ids or --pending")
			}
			return a.print(cmd.OutOrStdout(), results, func(w io.Writer) {
				for _, r := range results {
					fmt.Fprintf(w, "%d: %s (%d applied, %d skipped)\n",
						r.EntityID, r.Classification, applied(r.Outcomes), r.Skipped)
				}
			})
		},
	}
	cmd.Flags().BoolVar(&pending, "pending", false, "Review every entity never reviewed before")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum entities to review with --pending (0 for all)")
	return cmd
}

func applied(outcomes []resolution.Outcome) int {
	n := 0
	for _, o := range outcomes {
		if o.Applied {
			n++
		}
	}
	return n
}

// =============================================================================
// classify
// =============================================================================

func newClassifyCmd(a *app) *cobra.Command {
	var (
		as       string
		targets  []int64
		decision string
	)
	cmd := &cobra.Command{
		Use:   "classify <entity-id> [candidate-id]",
		Short: "Apply one classification decision",
		Long: `With a candidate id, decides the pair with the rule policy.
With --decision, applies a comparator reply given as JSON ("-" reads stdin).
With --as, forces a transition: canonical, alias, ambiguous or not_an_entity.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			id := ids[0]

			var out resolution.Outcome
			switch {
			case decision != "":
				raw := decision
				if raw == "-" {
					b, err := io.ReadAll(cmd.InOrStdin())
					if err != nil {
						return err
					}
					raw = string(b)
				}
				d, err := resolution.ParseDecision(raw)
				if err != nil {
					return err
				}
				out, err = a.svc.Apply(ctx, id, d)
				if err != nil {
					return err
				}
			case as != "":
				action, err := resolution.ParseAction(as)
				if err != nil {
					return err
				}
				out, err = a.svc.Apply(ctx, id, resolution.Decision{
					Action:     action,
					Targets:    targets,
					Confidence: 1,
					Reasoning:  "manual",
					Source:     resolution.SourceRules,
				})
				if err != nil {
					return err
				}
			case len(ids) == 2:
				out, err = a.svc.Classify(ctx, id, ids[1])
				if err != nil {
					return err
				}
			default:
				return errors.New("give a candidate id, --decision or --as")
			}

			return a.print(cmd.OutOrStdout(), out, func(w io.Writer) {
				switch {
				case out.Suggested:
					fmt.Fprintf(w, "%d: stored as suggestion\n", out.EntityID)
				case out.Applied:
					fmt.Fprintf(w, "%d: %s -> %s, affected %v\n", out.EntityID, out.Previous, out.Classification, out.Affected)
				default:
					fmt.Fprintf(w, "%d: unchanged (%s)\n", out.EntityID, out.Classification)
				}
			})
		},
	}
	cmd.Flags().StringVar(&as, "as", "", "Force a classification")
	cmd.Flags().Int64SliceVar(&targets, "targets", nil, "Canonical ids for --as alias or ambiguous")
	cmd.Flags().StringVar(&decision, "decision", "", "Comparator reply JSON, or - for stdin")
	return cmd
}

// =============================================================================
// allocate / rank
// =============================================================================

func newAllocateCmd(a *app) *cobra.Command {
	var article int64
	cmd := &cobra.Command{
		Use:   "allocate",
		Short: "Recompute per-article relevance for queued articles",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if article > 0 {
				alloc, err := a.svc.AllocateArticle(cmd.Context(), article)
				if err != nil {
					return err
				}
				return a.print(cmd.OutOrStdout(), alloc, func(w io.Writer) {
					writeMentions(w, alloc.Rows)
				})
			}
			n, err := a.svc.Allocate(cmd.Context())
			if err != nil {
				return err
			}
			return a.print(cmd.OutOrStdout(), map[string]int{"articles": n}, func(w io.Writer) {
				fmt.Fprintf(w, "%d articles allocated\n", n)
			})
		},
	}
	cmd.Flags().Int64Var(&article, "article", 0, "Recompute one article now, queued or not")
	return cmd
}

func newRankCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "rank",
		Short: "Run PageRank over the corpus and store global relevance",
		RunE: func(cmd *cobra.Command, _ []string) error {
			res, err := a.svc.Rank(cmd.Context())
			if err != nil {
				return err
			}
			st := res.Stats
			return a.print(cmd.OutOrStdout(), st, func(w io.Writer) {
				fmt.Fprintf(w, "run %s: %d nodes, %d edges, %d iterations, converged=%t, %s\n",
					st.RunID, st.Nodes, st.Edges, st.Iterations, st.Converged, st.Duration)
			})
		},
	}
}

func writeMentions(w io.Writer, rows []entity.Mention) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ENTITY\tMENTIONS\tRELEVANCE\tORIGIN")
	for _, r := range rows {
		fmt.Fprintf(tw, "%d\t%d\t%.4f\t%s\n", r.EntityID, r.Mentions, r.Relevance, strings.ToLower(string(r.Origin)))
	}
	tw.Flush()
}
