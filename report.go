package sftpmirror

import "time"

// DirectoryStatus is the final state of one directory in a run.
type DirectoryStatus string

const (
	StatusPending           DirectoryStatus = "pending"
	StatusSucceeded         DirectoryStatus = "succeeded"
	StatusPermissionPartial DirectoryStatus = "permission_partial"
	StatusExhausted         DirectoryStatus = "exhausted"
	StatusFailed            DirectoryStatus = "failed"
)

// DirectoryResult represents the outcome of synchronizing one directory.
type DirectoryResult struct {
	// RemoteDir is the remote directory, ending in "/".
	RemoteDir string

	// LocalDir is the local mirror of RemoteDir.
	LocalDir string

	// Status is the final state of the directory.
	Status DirectoryStatus

	// Attempts is how many times synchronization was started.
	Attempts int

	// RemoteCount is the number of remote files seen by the last attempt.
	RemoteCount int

	// LocalCount is the number of local files after the last attempt.
	LocalCount int

	// Fetched is the number of files downloaded, over all attempts.
	Fetched int

	// Present is the number of files skipped because they already existed.
	Present int

	// PermissionDenied lists the files the server refused to send.
	PermissionDenied []string

	// BytesFetched is the number of bytes downloaded, over all attempts.
	BytesFetched int64

	// Mismatch is set when RemoteCount and LocalCount differ.
	Mismatch bool

	// Error is the last error seen, if the directory did not succeed.
	Error string
}

func (r *DirectoryResult) apply(stats *SyncStats) {
	if stats == nil {
		return
	}
	r.RemoteCount = stats.RemoteCount
	r.LocalCount = stats.LocalCount
	r.Present = stats.Present
	r.PermissionDenied = stats.PermissionDenied
	r.Mismatch = stats.Mismatch
	r.Fetched += stats.Fetched
	r.BytesFetched += stats.BytesFetched
}

// Report summarizes a backup run.
type Report struct {
	RunID      string
	Host       string
	RemoteRoot string
	LocalRoot  string
	StartedAt  time.Time
	FinishedAt time.Time

	// Directories holds one result per directory, in discovery order.
	Directories []DirectoryResult

	// Reconnects is the number of session reconnects during the run.
	Reconnects int
}

// Duration returns how long the run took.
func (r *Report) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Totals aggregates the per-directory results of a run.
type Totals struct {
	Directories      int
	Succeeded        int
	PermissionDenied int
	Exhausted        int
	Failed           int
	FilesFetched     int
	FilesPresent     int
	BytesFetched     int64
	Mismatches       int
}

// Totals returns the aggregate counts of the run.
func (r *Report) Totals() Totals {
	var t Totals
	for _, d := range r.Directories {
		t.Directories++
		switch d.Status {
		case StatusSucceeded, StatusPermissionPartial:
			t.Succeeded++
		case StatusExhausted:
			t.Exhausted++
		case StatusFailed:
			t.Failed++
		}
		t.PermissionDenied += len(d.PermissionDenied)
		t.FilesFetched += d.Fetched
		t.FilesPresent += d.Present
		t.BytesFetched += d.BytesFetched
		if d.Mismatch {
			t.Mismatches++
		}
	}
	return t
}
