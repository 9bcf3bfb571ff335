package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"toolgraph/internal/computed"
	"toolgraph/internal/graph"
	"toolgraph/internal/subscribe"
)

var computedCmd = &cobra.Command{
	Use:   "computed",
	Short: "Inspect and recompute aggregate fields",
}

var computedListCmd = &cobra.Command{
	Use:   "list",
	Short: "List computed-field nodes with their cached values",
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := openBackend(false)
		if err != nil {
			return err
		}
		defer b.Close()

		registry := subscribe.NewRegistry(b, slog.Default())
		defer registry.Close()
		svc := computed.NewService(b, registry, slog.Default())

		fields, err := svc.List(cmd.Context())
		if err != nil {
			return err
		}
		for i := range fields {
			fmt.Printf("%s  %s  %s\n", fields[i].ID, fields[i].Content, cachedValue(&fields[i]))
		}
		return nil
	},
}

var computedGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Print a computed field's last cached value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := openBackend(false)
		if err != nil {
			return err
		}
		defer b.Close()

		registry := subscribe.NewRegistry(b, slog.Default())
		defer registry.Close()
		svc := computed.NewService(b, registry, slog.Default())

		value, err := svc.GetValue(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Println(formatValue(value))
		return nil
	},
}

var computedRecomputeCmd = &cobra.Command{
	Use:   "recompute <id>",
	Short: "Force a fresh aggregate and persist the new cached value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := openBackend(false)
		if err != nil {
			return err
		}
		defer b.Close()
		ctx := cmd.Context()

		registry := subscribe.NewRegistry(b, slog.Default())
		defer registry.Close()
		svc := computed.NewService(b, registry, slog.Default())
		defer svc.Close()

		value, err := svc.Recompute(ctx, args[0])
		if err != nil {
			return err
		}
		if err := b.Save(ctx); err != nil {
			return err
		}
		fmt.Println(formatValue(value))
		return nil
	},
}

func cachedValue(node *graph.AssembledNode) string {
	props := node.PropertiesBySystemID(graph.FieldComputedValue)
	if len(props) == 0 {
		return "null"
	}
	if n, ok := props[0].Value.Number(); ok {
		return fmt.Sprintf("%g", n)
	}
	return "null"
}

func formatValue(value *float64) string {
	if value == nil {
		return "null"
	}
	return fmt.Sprintf("%g", *value)
}

func init() {
	computedCmd.AddCommand(computedListCmd, computedGetCmd, computedRecomputeCmd)
	rootCmd.AddCommand(computedCmd)
}
