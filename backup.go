package sftpmirror

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// Backup mirrors the remote tree of one target into a local directory.
type Backup struct {
	target  Target
	dialer  Dialer
	fs      afero.Fs
	logger  logrus.FieldLogger
	metrics *Metrics
	retry   RetryConfig
	clock   clockwork.Clock
}

// Option configures a Backup.
type Option func(*Backup)

// WithDialer replaces the dialer chosen from the target protocol.
func WithDialer(d Dialer) Option {
	return func(b *Backup) {
		b.dialer = d
	}
}

// WithFs sets the local filesystem. Defaults to the OS filesystem.
func WithFs(fs afero.Fs) Option {
	return func(b *Backup) {
		b.fs = fs
	}
}

// WithLogger sets the logger.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(b *Backup) {
		b.logger = logger
	}
}

// WithMetrics records run metrics on m.
func WithMetrics(m *Metrics) Option {
	return func(b *Backup) {
		b.metrics = m
	}
}

// WithRetryConfig sets the per-directory retry policy.
func WithRetryConfig(cfg RetryConfig) Option {
	return func(b *Backup) {
		b.retry = cfg
	}
}

// WithClock sets the clock used for timestamps and retry waits.
func WithClock(c clockwork.Clock) Option {
	return func(b *Backup) {
		b.clock = c
	}
}

// New validates target and returns a Backup for it.
func New(target Target, opts ...Option) (*Backup, error) {
	target = target.WithDefaults()
	if err := target.Validate(); err != nil {
		return nil, err
	}

	b := &Backup{
		target: target,
		fs:     afero.NewOsFs(),
		logger: logrus.StandardLogger().WithField("component", "sftpmirror"),
		retry:  DefaultRetryConfig(),
		clock:  clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(b)
	}

	if b.dialer == nil {
		d, err := DialerFor(target.Protocol)
		if err != nil {
			return nil, err
		}
		b.dialer = d
	}
	return b, nil
}

// Run is shorthand for New followed by Backup.Run.
func Run(ctx context.Context, target Target, opts ...Option) (*Report, error) {
	b, err := New(target, opts...)
	if err != nil {
		return nil, err
	}
	return b.Run(ctx)
}

// Target returns the target with defaults applied.
func (b *Backup) Target() Target {
	return b.target
}

// Run performs one backup: connect, discover the remote tree, create the
// local skeleton and synchronize every directory in discovery order.
//
// A directory whose attempts all fail with connection errors is logged and
// skipped. Any other failure ends the run. The returned report is never nil
// and describes the directories processed so far.
func (b *Backup) Run(ctx context.Context) (*Report, error) {
	runID := uuid.NewString()
	logger := b.logger.WithFields(logrus.Fields{
		"run_id": runID,
		"host":   b.target.Address(),
	})

	report := &Report{
		RunID:      runID,
		Host:       b.target.Address(),
		RemoteRoot: b.target.RemoteRoot,
		LocalRoot:  b.target.LocalRoot,
		StartedAt:  b.clock.Now(),
	}
	defer func() {
		report.FinishedAt = b.clock.Now()
		b.metrics.finished(report.FinishedAt)
	}()

	logger.WithField("remote_root", b.target.RemoteRoot).Info("Connecting")
	session, err := Open(ctx, b.dialer, b.target,
		WithSessionLogger(logger),
		WithSessionMetrics(b.metrics),
	)
	if err != nil {
		return report, fmt.Errorf("failed to open session: %w", err)
	}
	defer func() {
		session.Close()
		report.Reconnects = session.Reconnects()
	}()

	logger.Info("Discovering remote directories")
	tree, err := Discover(ctx, session, b.target.RemoteRoot, logger)
	if err != nil {
		return report, err
	}
	dirs := tree.Keys()

	logger.WithField("directories", len(dirs)).Info("Creating local directories")
	if err := EnsureLocalSkeleton(b.fs, b.target.LocalRoot, dirs); err != nil {
		return report, err
	}

	syncer := NewDirectorySyncer(b.fs, b.target.LocalRoot, logger, b.metrics)
	for _, dir := range dirs {
		if err := ctx.Err(); err != nil {
			return report, fmt.Errorf("backup cancelled: %w", err)
		}

		result, err := b.syncDirectory(ctx, session, syncer, dir, logger)
		report.Directories = append(report.Directories, result)
		if err != nil {
			return report, err
		}
	}

	totals := report.Totals()
	logger.WithFields(logrus.Fields{
		"directories":       totals.Directories,
		"files_fetched":     totals.FilesFetched,
		"bytes_fetched":     totals.BytesFetched,
		"permission_denied": totals.PermissionDenied,
		"exhausted":         totals.Exhausted,
		"mismatches":        totals.Mismatches,
	}).Info("Backup finished")

	return report, nil
}

// syncDirectory runs the directory synchronizer under the retry policy.
// The session is reopened before an attempt whenever the previous one left
// it unhealthy. A directory that runs out of attempts loses the file its
// cursor names. Only a non-retryable failure is returned.
func (b *Backup) syncDirectory(ctx context.Context, session *Session, syncer *DirectorySyncer, dir string, logger logrus.FieldLogger) (DirectoryResult, error) {
	result := DirectoryResult{
		RemoteDir: dir,
		LocalDir:  LocalPath(b.target.LocalRoot, dir),
		Status:    StatusPending,
	}
	dirLogger := logger.WithField("remote_dir", dir)

	cfg := b.retry
	cfg.Logger = dirLogger
	if cfg.Clock == nil {
		cfg.Clock = b.clock
	}

	cursor := &Cursor{}
	var unreadable bool

	err := Retry(ctx, cfg, "sync directory", func(attempt int) error {
		result.Attempts = attempt
		b.metrics.attempted()

		if !session.IsHealthy() {
			if err := session.Reopen(ctx); err != nil {
				return err
			}
		}

		stats, err := syncer.Sync(ctx, session, dir, cursor)
		result.apply(stats)
		if stats != nil {
			unreadable = stats.Unreadable
		}
		return err
	})

	var exhausted *ExhaustedError
	switch {
	case err == nil:
		result.Status = StatusSucceeded
		if unreadable || len(result.PermissionDenied) > 0 {
			result.Status = StatusPermissionPartial
		}
	case errors.As(err, &exhausted):
		syncer.removeInterrupted(result.LocalDir, cursor, dirLogger)
		result.Status = StatusExhausted
		result.Error = err.Error()
		dirLogger.WithError(err).WithField("attempts", exhausted.Attempts).
			Error("Directory exhausted, moving on to the next directory")
		err = nil
	default:
		result.Status = StatusFailed
		result.Error = err.Error()
		err = fmt.Errorf("sync %s: %w", dir, err)
	}

	b.metrics.directoryDone(result.Status)
	return result, err
}
