package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/thessio/mfstools-go/internal/config"
	"github.com/thessio/mfstools-go/pkg/app"
)

var (
	// Global output flags only
	verbose      bool
	quiet        bool
	noColor      bool
	outputFormat string

	// runConfig holds the viper-loaded defaults every subcommand falls
	// back to when a flag isn't given explicitly.
	runConfig *config.RunConfig
)

var rootCmd = &cobra.Command{
	Use:   "mfstools",
	Short: "Backup and restore tool for TiVo MFS partition pairs",
	Long: `mfstools streams a TiVo MFS application/media partition pair to a
single backup file or pipe, and restores that stream back onto one or
two destination drives.

Works directly against raw block devices or disk image files; it never
mounts anything.

Commands:
  backup    Stream an MFS partition pair to a backup file
  restore   Restore a backup stream onto one or two drives
  info      Print a backup stream's or volume's header and zone map`,
	Version: "0.1.0-dev",
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: loading config: %v\n", err)
		os.Exit(1)
	}
	runConfig = cfg

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress output except errors")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "output format (table, json, yaml)")
}

// GetVerbose returns the verbose flag value
func GetVerbose() bool {
	return verbose
}

// GetQuiet returns the quiet flag value
func GetQuiet() bool {
	return quiet
}

// GetOutputFormat returns the output format
func GetOutputFormat() string {
	return outputFormat
}

// newRunContext builds the *app.Context every subcommand threads
// through its backup.Producer/restore.Consumer, carrying the global
// output flags and a progress callback that prints to stderr unless
// --quiet was given.
func newRunContext() *app.Context {
	ctx := app.NewContext()
	ctx.OutputFormat = outputFormat
	ctx.Verbose = verbose
	ctx.Quiet = quiet
	ctx.NoColor = noColor
	if !quiet {
		ctx.SetProgress(func(message string, percent int) {
			fmt.Fprintf(os.Stderr, "\r%s: %d%%", message, percent)
			if percent >= 100 {
				fmt.Fprintln(os.Stderr)
			}
		})
	}
	return ctx
}
