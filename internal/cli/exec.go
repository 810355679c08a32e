package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/harun/toolns/pkg/address"
	"github.com/harun/toolns/pkg/dispatcher"
	"github.com/spf13/cobra"
)

var execFile string

var execCmd = &cobra.Command{
	Use:   "exec [script]",
	Short: "Run a Lua script through /bin/script_execute",
	Long: `Run a Lua script in-process, exactly as a client calling /bin/script_execute
would. The script is taken from the argument, from --file, or from stdin when
the argument is "-" or missing.`,
	Example: `  toolns exec "return string.reverse('abcd')"
  echo "print('hi')" | toolns exec -`,
	Args: cobra.MaximumNArgs(1),
	RunE: runExec,
}

var callCmd = &cobra.Command{
	Use:   "call <tool> [json-arguments]",
	Short: "Call any tool by path or flat identifier",
	Example: `  toolns call /alice/utils/reverse '{"text":"abcd"}'
  toolns call user_alice__utils___reverse__v1_0 '{"text":"abcd"}'
  toolns --privileged call /sbin/engine_reset`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runCall,
}

func init() {
	execCmd.Flags().StringVarP(&execFile, "file", "f", "", "read the script from a file")
	rootCmd.AddCommand(execCmd)
	rootCmd.AddCommand(callCmd)
}

func runExec(cmd *cobra.Command, args []string) error {
	script, err := readScript(cmd, args)
	if err != nil {
		return err
	}

	rt, err := openLocal(cmd.Context())
	if err != nil {
		return err
	}
	defer rt.Close()

	res, err := rt.GetDispatcher().Dispatch(cmd.Context(),
		address.Encode(address.Bin("script_execute")),
		map[string]interface{}{"script": script},
		rt.cfg.Server.Privileged)
	if err != nil {
		return err
	}

	printResult(cmd.OutOrStdout(), res)
	return nil
}

func readScript(cmd *cobra.Command, args []string) (string, error) {
	if execFile != "" {
		if len(args) > 0 {
			return "", fmt.Errorf("give either a script argument or --file, not both")
		}
		data, err := os.ReadFile(execFile)
		if err != nil {
			return "", fmt.Errorf("failed to read script: %w", err)
		}
		return string(data), nil
	}

	if len(args) == 1 && args[0] != "-" {
		return args[0], nil
	}

	data, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return "", fmt.Errorf("failed to read script from stdin: %w", err)
	}
	if strings.TrimSpace(string(data)) == "" {
		return "", fmt.Errorf("no script given")
	}
	return string(data), nil
}

func runCall(cmd *cobra.Command, args []string) error {
	identifier, err := flatIdentifier(args[0])
	if err != nil {
		return err
	}

	var params map[string]interface{}
	if len(args) == 2 {
		if err := json.Unmarshal([]byte(args[1]), &params); err != nil {
			return fmt.Errorf("arguments must be a JSON object: %w", err)
		}
	}

	rt, err := openLocal(cmd.Context())
	if err != nil {
		return err
	}
	defer rt.Close()

	res, err := rt.GetDispatcher().Dispatch(cmd.Context(), identifier, params, rt.cfg.Server.Privileged)
	if err != nil {
		return err
	}

	printResult(cmd.OutOrStdout(), res)
	return nil
}

// flatIdentifier accepts a path (/alice/utils/reverse:1.0) or an already
// encoded identifier.
func flatIdentifier(s string) (string, error) {
	if !strings.HasPrefix(s, "/") {
		return s, nil
	}
	addr, err := address.ParseAddress(s)
	if err != nil {
		return "", err
	}
	return address.Encode(addr), nil
}

func printResult(w io.Writer, res dispatcher.Result) {
	if res.Output != "" {
		fmt.Fprint(w, res.Output)
	}
	if res.Text != "" {
		fmt.Fprintln(w, res.Text)
	}
}
