package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hybridcore/core/internal/model"
)

func newReindexCmd() *cobra.Command {
	var catalogPath string

	cmd := &cobra.Command{
		Use:   "reindex",
		Short: "Rebuild the vector and keyword indexes from a fixture catalog",
		Long: `Read a JSON array of content items from --catalog and (re)build the
vector index, keyword index, and metadata store from scratch. Items
without a precomputed embedding are embedded on the fly.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReindex(cmd, catalogPath)
		},
	}

	cmd.Flags().StringVar(&catalogPath, "catalog", "", "Path to a JSON array of content items (required)")
	cmd.MarkFlagRequired("catalog")

	return cmd
}

func runReindex(cmd *cobra.Command, catalogPath string) error {
	ctx := cmd.Context()

	raw, err := os.ReadFile(catalogPath)
	if err != nil {
		return fmt.Errorf("read catalog: %w", err)
	}

	var items []*model.ContentItem
	if err := json.Unmarshal(raw, &items); err != nil {
		return fmt.Errorf("parse catalog: %w", err)
	}

	dir, err := dataDirPath(dataDir)
	if err != nil {
		return err
	}
	rt, err := openRuntime(ctx, configDir, dir)
	if err != nil {
		return err
	}
	defer rt.close()

	if err := fillMissingEmbeddings(ctx, rt, items); err != nil {
		return err
	}

	if err := rt.vectors.Upsert(ctx, items); err != nil {
		return fmt.Errorf("index vectors: %w", err)
	}
	if err := rt.keyword.Upsert(ctx, items); err != nil {
		return fmt.Errorf("index keywords: %w", err)
	}
	for _, item := range items {
		if err := rt.metadata.UpsertContent(ctx, item); err != nil {
			return fmt.Errorf("upsert metadata for %s: %w", item.ID, err)
		}
	}

	vectorPath := dir + "/vector.bin"
	if err := rt.vectors.Save(vectorPath); err != nil {
		return fmt.Errorf("save vector index: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "indexed %d items\n", len(items))
	return nil
}

func fillMissingEmbeddings(ctx context.Context, rt *runtime, items []*model.ContentItem) error {
	var need []*model.ContentItem
	for _, item := range items {
		if len(item.Embedding) == 0 {
			need = append(need, item)
		}
	}
	if len(need) == 0 {
		return nil
	}

	embedder, err := rt.requireEmbedder(ctx)
	if err != nil {
		return err
	}

	texts := make([]string, len(need))
	for i, item := range need {
		texts[i] = item.Title + " " + item.Overview
	}
	vectors, err := embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed catalog: %w", err)
	}
	for i, item := range need {
		item.Embedding = vectors[i]
	}
	return nil
}
