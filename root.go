package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/arcbox/vaultfs/internal/vaultapp"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagJSON       bool
	flagVerbose    bool
	flagDebug      bool
	flagQuiet      bool
)

// skipConfigAnnotation marks commands that open vaultapp themselves (or
// don't need it at all), so PersistentPreRunE can skip the automatic
// App.Open call.
const skipConfigAnnotation = "skipConfig"

// CLIContext bundles the opened App and logger. Built once in
// PersistentPreRunE; eliminates redundant vaultapp.Open calls in RunE
// handlers.
type CLIContext struct {
	App    *vaultapp.App
	Flags  cliFlags
	Logger *slog.Logger
}

// cliFlags snapshots the persistent flags at PersistentPreRunE time.
type cliFlags struct {
	ConfigPath string
	JSON       bool
	Quiet      bool
}

// cliContextKey is the context key for CLIContext.
type cliContextKey struct{}

// cliContextFrom extracts the CLIContext from the command's context.
// Returns nil if no App was opened (commands with skipConfigAnnotation).
func cliContextFrom(ctx context.Context) *CLIContext {
	cc, ok := ctx.Value(cliContextKey{}).(*CLIContext)
	if !ok {
		return nil
	}

	return cc
}

// mustCLIContext extracts the CLIContext or panics with an actionable
// message. Use in RunE handlers for commands that require an open App.
func mustCLIContext(ctx context.Context) *CLIContext {
	cc := cliContextFrom(ctx)
	if cc == nil {
		panic("BUG: CLIContext not found in context — ensure the command " +
			"does not carry skipConfigAnnotation")
	}

	return cc
}

// newRootCmd builds and returns the fully-assembled root command with all
// subcommands registered. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "vaultfs",
		Short:   "Content-addressed encrypted file vault",
		Long:    "vaultfs stores files as deduplicated, authenticated-encryption-sealed chunks behind a remote blob channel, tracked by a local catalog and resumable transfer checkpoints.",
		Version: version,
		// Silence Cobra's default error/usage printing — we handle it ourselves.
		SilenceErrors: true,
		SilenceUsage:  true,
		// PersistentPreRunE opens the shared App before every command.
		// Commands annotated with skipConfigAnnotation open nothing.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Annotations[skipConfigAnnotation] == "true" {
				return nil
			}

			return openApp(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			if cc := cliContextFrom(cmd.Context()); cc != nil {
				return cc.App.Close()
			}

			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "show detailed output")
	cmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")

	cmd.MarkFlagsMutuallyExclusive("verbose", "debug", "quiet")

	cmd.AddCommand(newUploadCmd())
	cmd.AddCommand(newDownloadCmd())
	cmd.AddCommand(newLsCmd())
	cmd.AddCommand(newMkdirCmd())
	cmd.AddCommand(newMvCmd())
	cmd.AddCommand(newRmCmd())
	cmd.AddCommand(newRestoreCmd())
	cmd.AddCommand(newTrashCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newPauseCmd())
	cmd.AddCommand(newResumeCmd())
	cmd.AddCommand(newCancelCmd())
	cmd.AddCommand(newSyncCmd())

	return cmd
}

// openApp loads config, opens the catalog and checkpoint stores, builds
// the remote channel, and stores the resulting CLIContext on the
// command's context for RunE to retrieve via mustCLIContext.
func openApp(cmd *cobra.Command) error {
	logger := buildLogger()

	app, err := vaultapp.Open(cmd.Context(), flagConfigPath, logger)
	if err != nil {
		return fmt.Errorf("opening vault: %w", err)
	}

	cc := &CLIContext{
		App: app,
		Flags: cliFlags{
			ConfigPath: flagConfigPath,
			JSON:       flagJSON,
			Quiet:      flagQuiet,
		},
		Logger: logger,
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cmd.SetContext(context.WithValue(ctx, cliContextKey{}, cc))

	return nil
}

// buildLogger creates an slog.Logger from the CLI flags. --verbose,
// --debug, and --quiet are mutually exclusive (enforced by Cobra).
func buildLogger() *slog.Logger {
	level := slog.LevelWarn

	switch {
	case flagVerbose:
		level = slog.LevelInfo
	case flagDebug:
		level = slog.LevelDebug
	case flagQuiet:
		level = slog.LevelError
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
