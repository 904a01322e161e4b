package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"neopilot/config"
	"neopilot/logger"
	"neopilot/parser"

	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

// runtimePath returns the path of a runtime file kept next to the executable
func runtimePath(name string) string {
	execPath, err := os.Executable()
	if err != nil {
		log.Fatalf("error getting executable path: %v", err)
	}
	return filepath.Join(filepath.Dir(execPath), name)
}

// setupLogger logs to neopilot.log next to the executable and routes the standard
// log package through the same rotating file. Caller must defer Close.
func setupLogger(cfg config.Config) *logger.LimitedLogger {
	l, err := logger.Open(runtimePath("neopilot.log"), logger.ParseLevel(cfg.LogLevel), cfg.LogLines)
	if err != nil {
		log.Fatalf("error opening log: %v", err)
	}
	log.SetOutput(l)
	return l
}

func isDaemonRunning() (bool, int) {
	data, err := os.ReadFile(runtimePath("neopilot.pid"))
	if err != nil {
		return false, 0
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return false, 0
	}

	// Check if process is still running
	process, err := os.FindProcess(pid)
	if err != nil {
		return false, 0
	}

	// On Unix, Signal(0) checks if process exists
	err = process.Signal(syscall.Signal(0))
	return err == nil, pid
}

func runDaemon() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	l := setupLogger(cfg)
	defer l.Close()
	log.Printf("config: provider=%s model=%s url=%s", cfg.Provider, cfg.ProviderModel, cfg.ProviderURL)

	daemon, err := NewDaemon(cfg)
	if err != nil {
		return fmt.Errorf("error creating daemon: %w", err)
	}
	return daemon.Start()
}

func runClient() error {
	client := NewClient()

	if err := client.EnsureDaemonRunning(); err != nil {
		return fmt.Errorf("error ensuring daemon is running: %w", err)
	}
	if err := client.Connect(); err != nil {
		return fmt.Errorf("error connecting to daemon: %w", err)
	}
	return nil
}

func newRootCmd() *cobra.Command {
	var daemon bool

	root := &cobra.Command{
		Use:           "neopilot",
		Short:         "AI code suggestions for Neovim",
		Long:          "Without arguments neopilot relays msgpack-rpc between Neovim on stdio and a shared background daemon, starting the daemon when needed.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if daemon {
				return runDaemon()
			}
			return runClient()
		},
	}
	root.Flags().BoolVar(&daemon, "daemon", false, "run the background daemon")

	root.AddCommand(newParseCmd(), newVersionCmd())
	return root
}

// newParseCmd decodes a saved model response the way the daemon would and prints the
// resulting suggestion sets. It is meant for debugging prompts.
func newParseCmd() *cobra.Command {
	var bufferPath string

	cmd := &cobra.Command{
		Use:   "parse <response-file>",
		Short: "Parse a saved model response into suggestion sets",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var lines []string
			if bufferPath != "" {
				data, err := os.ReadFile(bufferPath)
				if err != nil {
					return err
				}
				lines = strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
			}

			sets, err := parser.Parse(string(raw), lines)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(sets)
		},
	}
	cmd.Flags().StringVar(&bufferPath, "buffer", "", "file holding the buffer the response was generated for")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Fatal(err)
	}
}
