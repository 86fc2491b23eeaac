// Package commands implements the sftpmirror command line.
package commands

import (
	"github.com/spf13/cobra"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// Execute builds the command tree and runs it against os.Args.
func Execute() error {
	return NewRootCmd().Execute()
}

// NewRootCmd returns a fresh command tree. Each call has its own flag state.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "sftpmirror",
		Short: "Mirror a remote SFTP or FTP directory tree to local disk",
		Long: `sftpmirror copies every file below a remote directory into a local
directory tree, keeping the remote layout. Files that already exist locally
are not downloaded again, so an interrupted backup resumes where it stopped.

Use "sftpmirror [command] --help" for more information about a command.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "config file (default: $XDG_CONFIG_HOME/sftpmirror/config.yaml)")
	flags.String("log-level", "info", "log level (debug|info|warn|error)")
	flags.String("log-format", "text", "log format (text|json)")
	flags.String("log-output", "stdout", "log output (stdout|stderr|<file path>)")

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newConfigCmd())
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}
