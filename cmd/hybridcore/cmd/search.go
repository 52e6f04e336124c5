package cmd

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hybridcore/core/internal/model"
)

type searchOptions struct {
	page     int
	pageSize int
	userID   string
	genres   []string
	format   string
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Run one hybrid search against the local index",
		Long: `Run a single hybrid search (vector + keyword, fused and personalized)
against the stores under --data-dir, for smoke-testing an index without
standing up the serve loop.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd, strings.Join(args, " "), opts)
		},
	}

	cmd.Flags().IntVarP(&opts.page, "page", "p", 1, "Page number")
	cmd.Flags().IntVarP(&opts.pageSize, "page-size", "n", 10, "Results per page")
	cmd.Flags().StringVar(&opts.userID, "user", "", "Personalize results for this user id")
	cmd.Flags().StringSliceVar(&opts.genres, "genre", nil, "Filter by genre (repeatable)")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")

	return cmd
}

func runSearch(cmd *cobra.Command, query string, opts searchOptions) error {
	ctx := cmd.Context()

	dir, err := dataDirPath(dataDir)
	if err != nil {
		return err
	}
	rt, err := openRuntime(ctx, configDir, dir)
	if err != nil {
		return err
	}
	defer rt.close()

	orch, _, err := rt.buildOrchestrator(ctx, slog.Default())
	if err != nil {
		return err
	}

	req := model.SearchRequest{
		Query:    query,
		Page:     opts.page,
		PageSize: opts.pageSize,
		UserID:   opts.userID,
	}
	if len(opts.genres) > 0 {
		req.Filters.Genres = opts.genres
	}

	resp, err := orch.Search(ctx, req)
	if err != nil {
		return err
	}

	if opts.format == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%d results (page %d, %dms)\n", resp.TotalCount, resp.Page, resp.SearchTimeMs)
	for i, r := range resp.Results {
		fmt.Fprintf(out, "%2d. %-40s score=%.3f %v\n", i+1, r.Content.Title, r.RelevanceScore, r.MatchReasons)
	}
	return nil
}
