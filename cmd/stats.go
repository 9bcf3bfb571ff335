package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"toolgraph/internal/graph"
)

var (
	statsJSON         bool
	statsTopN         int
	statsHubThreshold int
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Link-graph statistics: components, orphans, degree histogram, hubs",
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := openBackend(false)
		if err != nil {
			return err
		}
		defer b.Close()

		nodes, err := b.AllNodes(cmd.Context())
		if err != nil {
			return err
		}
		snap := graph.BuildLinkSnapshot(nodes)
		report := graph.ComputeStats(snap, statsHubThreshold, statsTopN)

		if statsJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		}

		fmt.Printf("nodes: %d  edges: %d  components: %d  orphans: %d\n",
			report.TotalNodes, report.TotalEdges, report.NumComponents, report.OrphanCount)
		fmt.Println("degree histogram:")
		for _, bucket := range report.DegreeHistogram {
			fmt.Printf("  %-8s %d\n", bucket.Label, bucket.Count)
		}
		if len(report.Hubs) > 0 {
			fmt.Println("hubs:")
			for _, hub := range report.Hubs {
				fmt.Printf("  %s  degree=%d  %s\n", hub.ID, hub.Degree, hub.Content)
			}
		}
		return nil
	},
}

func init() {
	statsCmd.Flags().BoolVar(&statsJSON, "json", false, "Output as JSON")
	statsCmd.Flags().IntVar(&statsTopN, "top-n", 10, "Number of hubs to show")
	statsCmd.Flags().IntVar(&statsHubThreshold, "hub-threshold", 5, "Minimum degree to count as a hub")
	rootCmd.AddCommand(statsCmd)
}
