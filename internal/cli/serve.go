package cli

import (
	"fmt"

	"github.com/harun/toolns/internal/daemon"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the toolns server",
	Long: `Start the JSON-RPC server in the foreground. It serves /rpc (HTTP), /ws
(WebSocket), /healthz and /metrics, and runs until interrupted.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	log, err := newLogger(cfg, cfg.Logging.Level)
	if err != nil {
		return err
	}
	defer log.Close()

	d, err := daemon.New(cfg, log, version)
	if err != nil {
		return err
	}
	if err := d.Start(); err != nil {
		return err
	}

	status := d.Status()
	fmt.Fprintf(cmd.OutOrStdout(), "toolns %s listening on %s (%d tools)\n", version, status.Addr, status.Tools)

	return d.Wait(cmd.Context())
}
