package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hybridcore/core/internal/personalize"
)

func newAdapterCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "adapter",
		Short: "Inspect and manage per-user LoRA adapters",
	}

	cmd.AddCommand(newAdapterListCmd())
	cmd.AddCommand(newAdapterShowCmd())
	cmd.AddCommand(newAdapterDeleteCmd())

	return cmd
}

func newAdapterListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <user-id>",
		Short: "List adapter versions stored for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := dataDirPath(dataDir)
			if err != nil {
				return err
			}
			rt, err := openRuntime(cmd.Context(), configDir, dir)
			if err != nil {
				return err
			}
			defer rt.close()

			metas, err := rt.metadata.List(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			for _, m := range metas {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\tv%d\titerations=%d\tupdated=%s\n", m.AdapterName, m.Version, m.TrainingIterations, m.UpdatedAt.Format("2006-01-02T15:04:05"))
			}
			return nil
		},
	}
}

func newAdapterShowCmd() *cobra.Command {
	var adapterName string

	cmd := &cobra.Command{
		Use:   "show <user-id>",
		Short: "Print the current adapter for a user as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := dataDirPath(dataDir)
			if err != nil {
				return err
			}
			rt, err := openRuntime(cmd.Context(), configDir, dir)
			if err != nil {
				return err
			}
			defer rt.close()

			store := personalize.NewAdapterStore(rt.metadata, 1)
			adapter, err := store.Load(cmd.Context(), args[0], adapterName)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(adapter)
		},
	}
	cmd.Flags().StringVar(&adapterName, "name", "default", "Adapter name")
	return cmd
}

func newAdapterDeleteCmd() *cobra.Command {
	var adapterName string

	cmd := &cobra.Command{
		Use:   "delete <user-id>",
		Short: "Delete all versions of a user's adapter",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := dataDirPath(dataDir)
			if err != nil {
				return err
			}
			rt, err := openRuntime(cmd.Context(), configDir, dir)
			if err != nil {
				return err
			}
			defer rt.close()

			return rt.metadata.Delete(cmd.Context(), args[0], adapterName)
		},
	}
	cmd.Flags().StringVar(&adapterName, "name", "default", "Adapter name")
	return cmd
}
