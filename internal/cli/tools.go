package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/harun/toolns/pkg/address"
	"github.com/harun/toolns/pkg/registry"
	"github.com/spf13/cobra"
)

var (
	listNamespace string
	listFilter    string
	listJSON      bool
)

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "Inspect tools and convert tool identifiers",
}

var toolsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered tools",
	Long: `List the built-ins, stored tools and tools discovered in the tools
directory. /sbin tools are shown only with --privileged.`,
	Args: cobra.NoArgs,
	RunE: runToolsList,
}

var toolsEncodeCmd = &cobra.Command{
	Use:     "encode <path>",
	Short:   "Convert a tool path to its flat identifier",
	Example: "  toolns tools encode /alice/utils/reverse:1.0",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, err := address.ParseAddress(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), address.Encode(addr))
		return nil
	},
}

var toolsDecodeCmd = &cobra.Command{
	Use:     "decode <identifier>",
	Short:   "Convert a flat identifier to its tool path",
	Example: "  toolns tools decode user_alice__utils___reverse__v1_0",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, err := address.Decode(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), addr.String())
		return nil
	},
}

func init() {
	toolsListCmd.Flags().StringVarP(&listNamespace, "namespace", "n", "", "bin, sbin, docs or a user name")
	toolsListCmd.Flags().StringVar(&listFilter, "filter", "", "glob over tool names, e.g. rev*")
	toolsListCmd.Flags().BoolVar(&listJSON, "json", false, "print the /bin/tool_list JSON result")

	toolsCmd.AddCommand(toolsListCmd)
	toolsCmd.AddCommand(toolsEncodeCmd)
	toolsCmd.AddCommand(toolsDecodeCmd)
	rootCmd.AddCommand(toolsCmd)
}

func runToolsList(cmd *cobra.Command, args []string) error {
	if err := registry.ValidatePattern(listFilter); err != nil {
		return err
	}

	rt, err := openLocal(cmd.Context())
	if err != nil {
		return err
	}
	defer rt.Close()

	priv := rt.cfg.Server.Privileged
	out := cmd.OutOrStdout()

	if listJSON {
		res, err := rt.GetDispatcher().Dispatch(cmd.Context(),
			address.Encode(address.Bin("tool_list")),
			map[string]interface{}{"namespace": listNamespace, "filter": listFilter},
			priv)
		if err != nil {
			return err
		}
		printResult(out, res)
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PATH\tIDENTIFIER\tDESCRIPTION")
	for s := range rt.GetRegistry().List(registry.Filter{Namespace: listNamespace, Pattern: listFilter}) {
		if s.Address.Namespace == address.NamespaceSbin && !priv {
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", s.Address, s.FlatIdentifier, s.Description)
	}
	return tw.Flush()
}
