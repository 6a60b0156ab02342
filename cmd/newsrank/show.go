package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kennylajara/news/internal/store"
	"github.com/kennylajara/news/pkg/entity"
)

func newShowCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Inspect stored entities, articles, suggestions and runs",
	}
	cmd.PersistentFlags().IntVar(&limit, "limit", 20, "Maximum rows")

	cmd.AddCommand(&cobra.Command{
		Use:   "entity <id>",
		Short: "Show one entity with its references and referrers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			e, err := a.store.GetEntity(cmd.Context(), id)
			if err != nil {
				return err
			}
			if e == nil {
				return fmt.Errorf("entity %d not found", id)
			}
			view := struct {
				entity.Entity
				References []int64 `json:"references"`
				Referrers  []int64 `json:"referrers"`
			}{Entity: *e, Referrers: a.svc.Engine().Referrers(id)}
			if n, ok := a.svc.Engine().Node(id); ok {
				view.References = n.References
			}
			return a.print(cmd.OutOrStdout(), view, func(w io.Writer) {
				fmt.Fprintf(w, "%d %q %s %s\n", e.ID, e.Name, e.Type, e.Classification)
				fmt.Fprintf(w, "  references: %v\n  referrers:  %v\n", view.References, view.Referrers)
				fmt.Fprintf(w, "  articles: %d  avg relevance: %.3f  diversity: %d\n",
					e.ArticleCount, e.AvgLocalRelevance, e.Diversity)
				fmt.Fprintf(w, "  pagerank: %.6f  global relevance: %.3f\n", e.PageRank, e.GlobalRelevance)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "top",
		Short: "List canonical entities by global relevance",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ents, err := a.store.TopEntities(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return a.print(cmd.OutOrStdout(), ents, func(w io.Writer) {
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tNAME\tTYPE\tGLOBAL\tARTICLES")
				for _, e := range ents {
					fmt.Fprintf(tw, "%d\t%s\t%s\t%.3f\t%d\n", e.ID, e.Name, e.Type, e.GlobalRelevance, e.ArticleCount)
				}
				tw.Flush()
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "article <id>",
		Short: "Show the allocation rows of one article",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			rows, err := a.store.ArticleMentions(cmd.Context(), id)
			if err != nil {
				return err
			}
			return a.print(cmd.OutOrStdout(), rows, func(w io.Writer) {
				writeMentions(w, rows)
			})
		},
	})

	var status string
	suggestions := &cobra.Command{
		Use:   "suggestions",
		Short: "List stored low-confidence decisions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			list, err := a.store.ListSuggestions(cmd.Context(), store.SuggestionStatus(status))
			if err != nil {
				return err
			}
			if len(list) > limit {
				list = list[:limit]
			}
			return a.print(cmd.OutOrStdout(), list, func(w io.Writer) {
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tENTITY\tACTION\tTARGETS\tCONFIDENCE\tSOURCE")
				for _, s := range list {
					fmt.Fprintf(tw, "%d\t%d\t%s\t%v\t%.2f\t%s\n", s.ID, s.EntityID, s.Action, s.Targets, s.Confidence, s.Source)
				}
				tw.Flush()
			})
		},
	}
	suggestions.Flags().StringVar(&status, "status", string(store.SuggestionPending), "pending, accepted, rejected or empty for all")
	cmd.AddCommand(suggestions)

	cmd.AddCommand(&cobra.Command{
		Use:   "runs",
		Short: "List recent ranking runs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			runs, err := a.store.ListRankRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return a.print(cmd.OutOrStdout(), runs, func(w io.Writer) {
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "RUN\tSTARTED\tNODES\tEDGES\tITERATIONS\tCONVERGED")
				for _, r := range runs {
					fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%t\n",
						r.ID, r.StartedAt.Format("2006-01-02 15:04:05"), r.Nodes, r.Edges, r.Iterations, r.Converged)
				}
				tw.Flush()
			})
		},
	})
	return cmd
}
