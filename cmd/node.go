package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"toolgraph/internal/graph"
)

var (
	nodeCreateContent string
	nodeCreateTag     string
	nodeCreateOwner   string
	nodeCreateProps   []string
	nodeCreateLinks   []string

	nodeShowInherit bool
	nodeShowJSON    bool
)

var nodeCmd = &cobra.Command{
	Use:   "node",
	Short: "Create and inspect graph nodes",
}

var nodeCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a node with optional supertag, properties, and links",
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := openBackend(false)
		if err != nil {
			return err
		}
		defer b.Close()
		ctx := cmd.Context()

		opts := graph.CreateNodeOptions{Content: nodeCreateContent, OwnerID: nodeCreateOwner}
		if nodeCreateTag != "" {
			tag, err := resolveRef(cmd, b, nodeCreateTag)
			if err != nil {
				return err
			}
			opts.SupertagID = tag.ID
		}
		for _, spec := range nodeCreateProps {
			fieldRef, raw, ok := strings.Cut(spec, "=")
			if !ok {
				return fmt.Errorf("invalid --prop %q (want field=value)", spec)
			}
			field, err := resolveRef(cmd, b, fieldRef)
			if err != nil {
				return err
			}
			opts.Properties = append(opts.Properties, graph.InitialProperty{
				FieldID: field.ID,
				Value:   graph.Scalar(raw),
				Order:   len(opts.Properties),
			})
		}

		id, err := b.CreateNode(ctx, opts)
		if err != nil {
			return err
		}

		// Links go through LinkNodes so endpoint checks apply.
		for _, spec := range nodeCreateLinks {
			fieldRef, target, ok := strings.Cut(spec, "=")
			if !ok {
				return fmt.Errorf("invalid --link %q (want field=nodeID)", spec)
			}
			field, err := resolveRef(cmd, b, fieldRef)
			if err != nil {
				return err
			}
			to, err := resolveRef(cmd, b, target)
			if err != nil {
				return err
			}
			if err := b.LinkNodes(ctx, id, field.ID, to.ID, true); err != nil {
				return err
			}
		}
		if err := b.Save(ctx); err != nil {
			return err
		}
		fmt.Println(id)
		return nil
	},
}

var nodeShowCmd = &cobra.Command{
	Use:   "show <id|systemId>",
	Short: "Print a node with its properties and supertags",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := openBackend(false)
		if err != nil {
			return err
		}
		defer b.Close()
		ctx := cmd.Context()

		node, err := resolveRef(cmd, b, args[0])
		if err != nil {
			return err
		}
		if nodeShowInherit {
			node, err = b.AssembleNodeWithInheritance(ctx, node.ID)
			if err != nil {
				return err
			}
		}

		if nodeShowJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(node)
		}
		printNode(node)
		return nil
	},
}

var nodeTagCmd = &cobra.Command{
	Use:   "tag <node> <supertag>",
	Short: "Assign a supertag to a node",
	Args:  cobra.ExactArgs(2),
	RunE:  func(cmd *cobra.Command, args []string) error { return toggleTag(cmd, args, true) },
}

var nodeUntagCmd = &cobra.Command{
	Use:   "untag <node> <supertag>",
	Short: "Remove a supertag from a node",
	Args:  cobra.ExactArgs(2),
	RunE:  func(cmd *cobra.Command, args []string) error { return toggleTag(cmd, args, false) },
}

func toggleTag(cmd *cobra.Command, args []string, add bool) error {
	b, err := openBackend(false)
	if err != nil {
		return err
	}
	defer b.Close()
	ctx := cmd.Context()

	node, err := resolveRef(cmd, b, args[0])
	if err != nil {
		return err
	}
	tag, err := resolveRef(cmd, b, args[1])
	if err != nil {
		return err
	}

	var changed bool
	if add {
		changed, err = b.AddNodeSupertag(ctx, node.ID, tag.ID)
	} else {
		changed, err = b.RemoveNodeSupertag(ctx, node.ID, tag.ID)
	}
	if err != nil {
		return err
	}
	if err := b.Save(ctx); err != nil {
		return err
	}
	if !changed {
		fmt.Println("no change")
	}
	return nil
}

func printNode(node *graph.AssembledNode) {
	fmt.Printf("%s  %s\n", node.ID, node.Content)
	if node.SystemID != nil {
		fmt.Printf("  systemId: %s\n", *node.SystemID)
	}
	if len(node.Supertags) > 0 {
		names := make([]string, len(node.Supertags))
		for i, tag := range node.Supertags {
			names[i] = tag.Name
		}
		fmt.Printf("  supertags: %s\n", strings.Join(names, ", "))
	}
	names := make([]string, 0, len(node.Properties))
	for name := range node.Properties {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		props := node.Properties[name]
		values := make([]string, len(props))
		for i, p := range props {
			if p.Value.IsReference() {
				values[i] = "@" + p.Value.NodeID
			} else {
				values[i] = p.Value.Text()
			}
			if p.Inherited {
				values[i] += " (inherited)"
			}
		}
		fmt.Printf("  %s: %s\n", name, strings.Join(values, ", "))
	}
}

func init() {
	nodeCreateCmd.Flags().StringVar(&nodeCreateContent, "content", "", "Node content/title")
	nodeCreateCmd.Flags().StringVar(&nodeCreateTag, "tag", "", "Initial supertag (system id or node id)")
	nodeCreateCmd.Flags().StringVar(&nodeCreateOwner, "owner", "", "Owner node id")
	nodeCreateCmd.Flags().StringArrayVar(&nodeCreateProps, "prop", nil, "Scalar property field=value (repeatable)")
	nodeCreateCmd.Flags().StringArrayVar(&nodeCreateLinks, "link", nil, "Reference property field=nodeID (repeatable)")

	nodeShowCmd.Flags().BoolVar(&nodeShowInherit, "inherit", false, "Resolve inherited field defaults")
	nodeShowCmd.Flags().BoolVar(&nodeShowJSON, "json", false, "Output as JSON")

	nodeCmd.AddCommand(nodeCreateCmd, nodeShowCmd, nodeTagCmd, nodeUntagCmd)
	rootCmd.AddCommand(nodeCmd)
}
