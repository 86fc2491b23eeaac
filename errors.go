package sftpmirror

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"net/textproto"
	"strings"
	"syscall"

	"github.com/jlaffaye/ftp"
	"github.com/pkg/sftp"
)

var errNotConnected = errors.New("session is not connected")

// ConnectionError reports a transport or session level failure.
// It is the only failure class that is recovered by reconnecting.
type ConnectionError struct {
	Op   string
	Path string
	Err  error
}

func (e *ConnectionError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s %s: connection error: %v", e.Op, e.Path, e.Err)
	}
	return fmt.Sprintf("%s: connection error: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// PermissionError reports that the remote host denied access to a file or
// directory.
type PermissionError struct {
	Path string
	Err  error
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("permission denied: %s: %v", e.Path, e.Err)
}

func (e *PermissionError) Unwrap() error { return e.Err }

// DiscoveryError reports a directory listing that could not be completed,
// even after a reconnect. It aborts the run.
type DiscoveryError struct {
	Dir string
	Err error
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("discover %s: %v", e.Dir, e.Err)
}

func (e *DiscoveryError) Unwrap() error { return e.Err }

// ExhaustedError is returned by Retry when every attempt failed with a
// retryable error.
type ExhaustedError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s failed after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// connectionMessages are substrings of errors that indicate a dropped or
// unusable connection when the underlying library does not type them.
var connectionMessages = []string{
	"connection refused",
	"connection reset",
	"connection lost",
	"broken pipe",
	"no route to host",
	"network is unreachable",
	"i/o timeout",
	"handshake failed",
	"ssh: disconnect",
	"ssh: unable to authenticate",
	"use of closed network connection",
	"temporary failure",
}

// IsConnectionError reports whether err should be handled by reconnecting
// the session.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var connErr *ConnectionError
	if errors.As(err, &connErr) {
		return true
	}

	// A permission denial never becomes a connection problem, whatever its
	// message says.
	if IsPermissionError(err) {
		return false
	}

	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return true
	}

	if errors.Is(err, sftp.ErrSSHFxConnectionLost) || errors.Is(err, sftp.ErrSSHFxNoConnection) {
		return true
	}

	var statusErr *sftp.StatusError
	if errors.As(err, &statusErr) {
		switch statusErr.FxCode() {
		case sftp.ErrSSHFxConnectionLost, sftp.ErrSSHFxNoConnection:
			return true
		}
	}

	var protoErr *textproto.Error
	if errors.As(err, &protoErr) && protoErr.Code == ftp.StatusNotAvailable {
		return true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	// syscall.Errno satisfies net.Error, so a local failure such as EMFILE
	// or ENOSPC from the mirror's own filesystem must be sorted out first.
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return isConnectionErrno(errno)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	errMsg := strings.ToLower(err.Error())
	for _, msg := range connectionMessages {
		if strings.Contains(errMsg, msg) {
			return true
		}
	}

	return false
}

func isConnectionErrno(errno syscall.Errno) bool {
	switch errno {
	case syscall.ECONNRESET, syscall.ECONNREFUSED, syscall.ECONNABORTED,
		syscall.EPIPE, syscall.ETIMEDOUT, syscall.EHOSTUNREACH, syscall.ENETUNREACH:
		return true
	}
	return false
}

// IsPermissionError reports whether err is an access denial for a single
// remote path.
func IsPermissionError(err error) bool {
	if err == nil {
		return false
	}

	var permErr *PermissionError
	if errors.As(err, &permErr) {
		return true
	}

	if errors.Is(err, fs.ErrPermission) || errors.Is(err, sftp.ErrSSHFxPermissionDenied) {
		return true
	}

	var statusErr *sftp.StatusError
	if errors.As(err, &statusErr) && statusErr.FxCode() == sftp.ErrSSHFxPermissionDenied {
		return true
	}

	var protoErr *textproto.Error
	if errors.As(err, &protoErr) && protoErr.Code == ftp.StatusFileUnavailable {
		return true
	}

	return false
}

// classify wraps a raw transport error in the matching typed error.
// Errors it cannot classify are returned unchanged.
func classify(op, path string, err error) error {
	if err == nil {
		return nil
	}

	var connErr *ConnectionError
	var permErr *PermissionError
	if errors.As(err, &connErr) || errors.As(err, &permErr) {
		return err
	}

	if IsPermissionError(err) {
		return &PermissionError{Path: path, Err: err}
	}
	if IsConnectionError(err) {
		return &ConnectionError{Op: op, Path: path, Err: err}
	}
	return err
}
