package sftpmirror

import (
	"context"
	"fmt"
	"io"
)

// Entry is one item of a remote directory listing.
type Entry struct {
	Name  string
	IsDir bool
	Size  int64
}

// Transport is an open connection to the remote host.
// Implementations are not required to be safe for concurrent use.
type Transport interface {
	// List returns the entries of a remote directory, excluding "." and "..".
	List(ctx context.Context, dir string) ([]Entry, error)
	// Open opens a remote file for reading.
	Open(ctx context.Context, path string) (io.ReadCloser, error)
	// Close tears the connection down at every layer it owns.
	Close() error
}

// Dialer establishes Transports. A Dialer that fails part way through must
// release whatever it had already opened.
type Dialer interface {
	Dial(ctx context.Context, target Target) (Transport, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context, target Target) (Transport, error)

// Dial calls f(ctx, target).
func (f DialerFunc) Dial(ctx context.Context, target Target) (Transport, error) {
	return f(ctx, target)
}

// DialerFor returns the Dialer for a protocol.
func DialerFor(protocol Protocol) (Dialer, error) {
	switch protocol {
	case ProtocolSFTP, "":
		return SFTPDialer{}, nil
	case ProtocolFTP:
		return FTPDialer{}, nil
	default:
		return nil, fmt.Errorf("unsupported protocol %q", protocol)
	}
}
