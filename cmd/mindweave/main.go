package main

import (
	_ "embed"
	"fmt"
	"os"
	"runtime/debug"
	"strings"

	"github.com/spf13/cobra"

	"github.com/youruser/mindweave/internal/logging"
)

//go:embed version.txt
var version string

// buildCommit is set via -ldflags or falls back to VCS info from debug.ReadBuildInfo.
var buildCommit string

var log = logging.Get()

// getBuildCommit returns the short commit hash, resolving from VCS build info if needed.
func getBuildCommit() string {
	if buildCommit != "" {
		return buildCommit
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == "vcs.revision" && len(setting.Value) >= 7 {
			return setting.Value[:7]
		}
	}
	return ""
}

func versionString() string {
	v := strings.TrimSpace(version)
	if commit := getBuildCommit(); commit != "" {
		return v + " (" + commit + ")"
	}
	return v
}

type rootFlags struct {
	configPath string
	sessionID  string
	model      string
	mode       string
	baseURL    string
}

func newRootCmd() *cobra.Command {
	var flags rootFlags

	cmd := &cobra.Command{
		Use:           "mindweave",
		Short:         "mindweave - streaming chat client for an AI coding backend",
		Long:          "mindweave talks to an AI coding backend over its streaming completion API,\nconfirming tool actions interactively before they run.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd.Context(), flags)
		},
	}

	cmd.Flags().StringVar(&flags.configPath, "config", "", "config file (default ~/.config/mindweave/config.yaml)")
	cmd.Flags().StringVar(&flags.sessionID, "session", "", "backend session id (overrides config)")
	cmd.Flags().StringVar(&flags.model, "model", "", "model name (overrides config)")
	cmd.Flags().StringVar(&flags.mode, "mode", "", "conversation mode: manual, auto, all, or single-html")
	cmd.Flags().StringVar(&flags.baseURL, "base-url", "", "backend base URL (overrides config)")

	cmd.AddCommand(newVersionCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("mindweave %s\n", versionString())
		},
	}
}

func main() {
	defer log.Close()
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "mindweave: %v\n", err)
		os.Exit(1)
	}
}
