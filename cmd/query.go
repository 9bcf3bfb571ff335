package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"toolgraph/internal/graph"
)

var (
	queryFile string
	queryJSON bool
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Evaluate query definitions against the graph",
}

var queryEvalCmd = &cobra.Command{
	Use:   "eval [definition-json]",
	Short: "Evaluate a query definition given inline or via --file",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := readDefinition(args)
		if err != nil {
			return err
		}
		var def graph.QueryDefinition
		if err := json.Unmarshal(raw, &def); err != nil {
			return fmt.Errorf("parsing query definition: %w", err)
		}

		b, err := openBackend(false)
		if err != nil {
			return err
		}
		defer b.Close()

		result, err := b.EvaluateQuery(cmd.Context(), def)
		if err != nil {
			return err
		}

		if queryJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		}
		for i := range result.Nodes {
			fmt.Printf("%s  %s\n", result.Nodes[i].ID, result.Nodes[i].Content)
		}
		fmt.Printf("%d of %d matches, evaluated %s\n",
			len(result.Nodes), result.TotalCount,
			time.UnixMilli(result.EvaluatedAt).Format(time.RFC3339))
		return nil
	},
}

func readDefinition(args []string) ([]byte, error) {
	if queryFile != "" {
		raw, err := os.ReadFile(queryFile)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", queryFile, err)
		}
		return raw, nil
	}
	if len(args) == 1 {
		return []byte(args[0]), nil
	}
	return nil, fmt.Errorf("provide a definition argument or --file")
}

func init() {
	queryEvalCmd.Flags().StringVar(&queryFile, "file", "", "Read the definition from a JSON file")
	queryEvalCmd.Flags().BoolVar(&queryJSON, "json", false, "Output as JSON")
	queryCmd.AddCommand(queryEvalCmd)
	rootCmd.AddCommand(queryCmd)
}
