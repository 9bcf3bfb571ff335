package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"toolgraph/internal/graph"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the data file and bootstrap the system fields and supertags",
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := openBackend(true)
		if err != nil {
			return err
		}
		defer b.Close()

		ctx := cmd.Context()
		if err := b.Init(ctx); err != nil {
			return fmt.Errorf("bootstrapping: %w", err)
		}
		if err := b.Save(ctx); err != nil {
			return err
		}

		fmt.Println("bootstrap complete; system nodes:")
		for _, spec := range graph.SystemSupertags() {
			fmt.Printf("  %-28s %s\n", spec.SystemID, spec.Name)
		}
		for _, spec := range graph.SystemFields() {
			fmt.Printf("  %-28s %s (%s)\n", spec.SystemID, spec.Name, spec.ValueType)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
