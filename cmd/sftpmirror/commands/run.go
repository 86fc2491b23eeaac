package commands

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/darshan-rambhia/sftpmirror"
	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

type runOptions struct {
	noBackoff bool
	strict    bool
	quiet     bool
}

func newRunCmd() *cobra.Command {
	opts := &runOptions{}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Mirror the remote tree once",
		Long: `Connect to the remote host, discover every directory below the remote root,
create the same layout under the local root and download each file that is
not already present locally.

A directory that keeps failing with connection errors is skipped after four
attempts and the run continues with the next one. Any other error stops the run.

Examples:
  # Mirror /srv/data from a host using an SSH key
  sftpmirror run --host files.example.com --user backup \
    --key-path ~/.ssh/id_ed25519 --remote-root /srv/data --local-root ~/mirror

  # Mirror over FTP with the password taken from the environment
  SFTPMIRROR_TARGET_PASSWORD=secret sftpmirror run --protocol ftp \
    --host ftp.example.com --user backup --local-root /var/backups/ftp

  # Use a config file and export metrics for the node_exporter textfile collector
  sftpmirror run --config /etc/sftpmirror/config.yaml \
    --metrics-file /var/lib/node_exporter/sftpmirror.prom`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBackup(cmd, opts)
		},
	}

	flags := runCmd.Flags()
	flags.String("host", "", "remote host name or IP address")
	flags.Int("port", 0, "remote port (default 22 for sftp, 21 for ftp)")
	flags.String("protocol", "", "transfer protocol (sftp|ftp)")
	flags.String("user", "", "remote user name")
	flags.String("password", "", "password for SSH or FTP login")
	flags.String("key-path", "", "path to an SSH private key")
	flags.String("known-hosts", "", "known_hosts file (default ~/.ssh/known_hosts)")
	flags.Bool("insecure-ignore-host-key", false, "skip host key verification")
	flags.Duration("timeout", 0, "connection timeout (default 30s)")
	flags.String("remote-root", "", "remote directory to mirror (default /)")
	flags.String("local-root", "", "local directory that receives the mirror")
	flags.Int("max-attempts", sftpmirror.DefaultMaxAttempts, "attempts per directory before it is skipped")
	flags.String("metrics-file", "", "write Prometheus metrics to this file after the run")
	flags.BoolVar(&opts.noBackoff, "no-backoff", false, "retry immediately instead of backing off")
	flags.BoolVar(&opts.strict, "strict", false, "exit non-zero when any directory is exhausted or mismatched")
	flags.BoolVarP(&opts.quiet, "quiet", "q", false, "do not print the summary table")

	return runCmd
}

func runBackup(cmd *cobra.Command, opts *runOptions) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger, err := sftpmirror.NewLogger(cfg.Logging)
	if err != nil {
		return err
	}

	retry := cfg.Retry
	if opts.noBackoff {
		retry = sftpmirror.NoDelayRetryConfig()
		retry.MaxAttempts = cfg.Retry.MaxAttempts
	}

	var registry *prometheus.Registry
	var metrics *sftpmirror.Metrics
	if cfg.Metrics.File != "" {
		registry = prometheus.NewRegistry()
		metrics = sftpmirror.NewMetrics(registry)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	report, runErr := sftpmirror.Run(ctx, cfg.Target,
		sftpmirror.WithLogger(logger.WithField("component", "sftpmirror")),
		sftpmirror.WithRetryConfig(retry),
		sftpmirror.WithMetrics(metrics),
	)

	if report != nil && !opts.quiet {
		printSummary(cmd.OutOrStdout(), report)
	}

	if registry != nil {
		path := sftpmirror.ExpandPath(cfg.Metrics.File)
		if err := prometheus.WriteToTextfile(path, registry); err != nil {
			if runErr == nil {
				return fmt.Errorf("failed to write metrics file: %w", err)
			}
			logger.WithError(err).WithField("file", path).Error("Failed to write metrics file")
		}
	}

	if runErr != nil {
		return runErr
	}

	if opts.strict {
		totals := report.Totals()
		if totals.Exhausted > 0 || totals.Mismatches > 0 {
			return fmt.Errorf("backup incomplete: %d directories exhausted, %d count mismatches",
				totals.Exhausted, totals.Mismatches)
		}
	}

	return nil
}

// printSummary writes one row per directory followed by the run totals.
func printSummary(w io.Writer, report *sftpmirror.Report) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Directory", "Status", "Attempts", "Remote", "Local", "Fetched", "Size"})
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("  ")
	table.SetNoWhiteSpace(true)

	for _, dir := range report.Directories {
		local := strconv.Itoa(dir.LocalCount)
		if dir.Mismatch {
			local += " (!)"
		}
		table.Append([]string{
			dir.RemoteDir,
			string(dir.Status),
			strconv.Itoa(dir.Attempts),
			strconv.Itoa(dir.RemoteCount),
			local,
			strconv.Itoa(dir.Fetched),
			humanize.Bytes(uint64(dir.BytesFetched)),
		})
	}
	table.Render()

	totals := report.Totals()
	fmt.Fprintf(w, "\n%s directories, %s files fetched (%s), %s already present in %s\n",
		humanize.Comma(int64(totals.Directories)),
		humanize.Comma(int64(totals.FilesFetched)),
		humanize.Bytes(uint64(totals.BytesFetched)),
		humanize.Comma(int64(totals.FilesPresent)),
		report.Duration().Round(time.Millisecond),
	)
	if totals.PermissionDenied > 0 || totals.Exhausted > 0 || totals.Mismatches > 0 || report.Reconnects > 0 {
		fmt.Fprintf(w, "%d permission denied, %d directories exhausted, %d count mismatches, %d reconnects\n",
			totals.PermissionDenied, totals.Exhausted, totals.Mismatches, report.Reconnects)
	}
}
