package sftpmirror

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// Cursor remembers the file a directory sync is currently fetching. When
// the same directory is retried the file it names is assumed incomplete and
// removed before anything else happens.
type Cursor struct {
	name string
}

// Set records name as the file being fetched.
func (c *Cursor) Set(name string) { c.name = name }

// Name returns the recorded file name, or "" if none.
func (c *Cursor) Name() string { return c.name }

// SyncStats describes one synchronization attempt of a directory.
type SyncStats struct {
	RemoteDir        string
	LocalDir         string
	RemoteCount      int
	LocalCount       int
	Fetched          int
	Present          int
	PermissionDenied []string
	BytesFetched     int64
	Mismatch         bool
	// Unreadable is set when the server refused to list the directory.
	Unreadable bool
}

// DirectorySyncer downloads the files of one remote directory that are
// missing from its local mirror.
type DirectorySyncer struct {
	fs        afero.Fs
	localRoot string
	logger    logrus.FieldLogger
	metrics   *Metrics
}

// NewDirectorySyncer creates a DirectorySyncer writing under localRoot on fs.
func NewDirectorySyncer(fs afero.Fs, localRoot string, logger logrus.FieldLogger, metrics *Metrics) *DirectorySyncer {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &DirectorySyncer{
		fs:        fs,
		localRoot: localRoot,
		logger:    logger,
		metrics:   metrics,
	}
}

// Sync fetches every remote file of remoteDir that does not exist locally
// and compares the remote and local file counts afterwards.
//
// Files the server refuses to send are skipped. Any other fetch error is
// returned together with the stats gathered so far; connection errors are
// safe to retry by calling Sync again with the same cursor.
func (d *DirectorySyncer) Sync(ctx context.Context, session *Session, remoteDir string, cursor *Cursor) (*SyncStats, error) {
	localDir := LocalPath(d.localRoot, remoteDir)
	stats := &SyncStats{RemoteDir: remoteDir, LocalDir: localDir}
	logger := d.logger.WithFields(logrus.Fields{
		"remote_dir": remoteDir,
		"local_dir":  localDir,
	})

	logger.Info("Directory entered")

	if !withinRoot(d.localRoot, localDir) {
		return stats, fmt.Errorf("remote directory %s maps outside local root %s", remoteDir, d.localRoot)
	}

	d.removeInterrupted(localDir, cursor, logger)

	entries, err := session.List(ctx, remoteDir)
	if err != nil {
		if IsPermissionError(err) {
			logger.WithError(err).Warn("Skipping unreadable directory")
			stats.Unreadable = true
			return stats, nil
		}
		return stats, err
	}

	var files []Entry
	for _, e := range entries {
		if !e.IsDir && ValidEntryName(e.Name) {
			files = append(files, e)
		}
	}
	stats.RemoteCount = len(files)
	logger.WithField("remote_count", stats.RemoteCount).Info("Remote files listed")

	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return stats, fmt.Errorf("sync %s cancelled: %w", remoteDir, err)
		}

		cursor.Set(f.Name)
		localPath := filepath.Join(localDir, f.Name)
		fileLogger := logger.WithField("file", f.Name)

		exists, err := afero.Exists(d.fs, localPath)
		if err != nil {
			return stats, fmt.Errorf("failed to check local file %s: %w", localPath, err)
		}
		if exists {
			stats.Present++
			d.metrics.skipped("present")
			fileLogger.Debug("Already present")
			continue
		}

		n, err := d.fetch(ctx, session, remoteDir+f.Name, localPath)
		if err != nil {
			if IsPermissionError(err) {
				fileLogger.WithError(err).Warn("File skipped, permission denied or unavailable")
				_ = d.fs.Remove(localPath)
				stats.PermissionDenied = append(stats.PermissionDenied, f.Name)
				d.metrics.skipped("permission")
				continue
			}
			return stats, err
		}

		stats.Fetched++
		stats.BytesFetched += n
		d.metrics.fetched(n)
		fileLogger.WithField("bytes", n).Info("File fetched")
	}

	localCount, err := d.countLocalFiles(localDir)
	if err != nil {
		return stats, err
	}
	stats.LocalCount = localCount
	logger.WithField("local_count", localCount).Info("Local files counted")

	if stats.RemoteCount != stats.LocalCount {
		stats.Mismatch = true
		d.metrics.mismatched()
		logger.WithFields(logrus.Fields{
			"remote_count": stats.RemoteCount,
			"local_count":  stats.LocalCount,
		}).Error("Count mismatch, number of files in local directory does not match remote directory")
	}

	return stats, nil
}

// removeInterrupted deletes the file named by cursor if it exists, since the
// attempt that set the cursor may have left it half written.
func (d *DirectorySyncer) removeInterrupted(localDir string, cursor *Cursor, logger logrus.FieldLogger) {
	if cursor == nil || cursor.Name() == "" {
		return
	}
	path := filepath.Join(localDir, cursor.Name())
	info, err := d.fs.Stat(path)
	if err != nil || info.IsDir() {
		return
	}
	if err := d.fs.Remove(path); err == nil {
		logger.WithField("file", cursor.Name()).Info("Removed interrupted download")
	}
}

func (d *DirectorySyncer) fetch(ctx context.Context, session *Session, remotePath, localPath string) (int64, error) {
	body, err := session.Fetch(ctx, remotePath)
	if err != nil {
		return 0, err
	}
	defer body.Close()

	dst, err := d.fs.Create(localPath)
	if err != nil {
		return 0, fmt.Errorf("failed to create local file: %w", err)
	}

	n, err := io.Copy(dst, body)
	closeErr := dst.Close()
	if err != nil {
		return n, fmt.Errorf("failed to copy %s: %w", remotePath, err)
	}
	if closeErr != nil {
		return n, fmt.Errorf("failed to close local file: %w", closeErr)
	}
	return n, nil
}

func (d *DirectorySyncer) countLocalFiles(localDir string) (int, error) {
	infos, err := afero.ReadDir(d.fs, localDir)
	if err != nil {
		return 0, fmt.Errorf("failed to read local directory %s: %w", localDir, err)
	}
	count := 0
	for _, info := range infos {
		if !info.IsDir() {
			count++
		}
	}
	return count, nil
}
