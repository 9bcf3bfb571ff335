package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"toolgraph/internal/config"
	"toolgraph/internal/graph"
	"toolgraph/internal/memstore"
	"toolgraph/internal/sqlite"
)

var (
	dbPath      string
	configPath  string
	backendName string
	verbose     bool
)

var rootCmd = &cobra.Command{
	Use:   "toolgraph",
	Short: "Tool catalog as a node-property graph: store, query, aggregate",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelWarn
		if verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Path to the data file")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to .toolgraph.yaml config")
	rootCmd.PersistentFlags().StringVar(&backendName, "backend", "", "Storage engine: sqlite or memory")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Debug logging")
}

// loadConfig resolves the effective configuration: file (flag or discovered),
// then flag overrides.
func loadConfig() (config.Config, error) {
	path := configPath
	if path == "" {
		path = config.DiscoverConfigFile()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, err
	}
	if backendName != "" {
		cfg.Backend = backendName
		if err := cfg.Validate(); err != nil {
			return cfg, err
		}
	}
	return cfg, nil
}

// openBackend discovers the data file and opens the configured engine.
// createIfMissing lets init point at a path that does not exist yet.
func openBackend(createIfMissing bool) (graph.NodeBackend, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	path, err := cfg.ResolvePath(dbPath, createIfMissing)
	if err != nil {
		return nil, err
	}
	switch cfg.Backend {
	case config.BackendMemory:
		return memstore.Open(path)
	default:
		return sqlite.Open(path)
	}
}

// resolveRef finds a node by system id first, then by raw node id.
func resolveRef(cmd *cobra.Command, b graph.NodeBackend, ref string) (*graph.AssembledNode, error) {
	ctx := cmd.Context()
	node, err := b.FindNodeBySystemID(ctx, ref)
	if err != nil {
		return nil, err
	}
	if node == nil {
		node, err = b.FindNodeByID(ctx, ref)
		if err != nil {
			return nil, err
		}
	}
	if node == nil {
		return nil, fmt.Errorf("node not found: %s", ref)
	}
	return node, nil
}
