package sftpmirror

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"

	"github.com/jlaffaye/ftp"
)

// ftpConn is the subset of *ftp.ServerConn the FTP transport uses.
type ftpConn interface {
	List(path string) ([]*ftp.Entry, error)
	Retr(path string) (io.ReadCloser, error)
	Quit() error
}

type serverConn struct {
	*ftp.ServerConn
}

func (c serverConn) Retr(path string) (io.ReadCloser, error) {
	resp, err := c.ServerConn.Retr(path)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// FTPDialer opens FTP transports. Explicit TLS is used when Target.FTPTLS is set.
type FTPDialer struct{}

var _ Dialer = FTPDialer{}

// Dial connects and logs in with the target's user and password.
func (FTPDialer) Dial(ctx context.Context, target Target) (Transport, error) {
	target = target.WithDefaults()
	addr := target.Address()

	opts := []ftp.DialOption{
		ftp.DialWithContext(ctx),
		ftp.DialWithTimeout(target.Timeout),
	}
	if target.FTPTLS {
		opts = append(opts, ftp.DialWithExplicitTLS(&tls.Config{
			ServerName:         target.Host,
			InsecureSkipVerify: target.InsecureIgnoreHostKey,
		}))
	}

	conn, err := ftp.Dial(addr, opts...)
	if err != nil {
		return nil, &ConnectionError{Op: "dial", Path: addr, Err: err}
	}

	if err := conn.Login(target.User, target.Password); err != nil {
		conn.Quit()
		return nil, &ConnectionError{Op: "login", Path: addr, Err: err}
	}

	return &ftpTransport{conn: serverConn{conn}}, nil
}

// ftpTransport is a Transport backed by an FTP control connection.
type ftpTransport struct {
	conn ftpConn
}

var _ Transport = (*ftpTransport)(nil)

func (t *ftpTransport) List(ctx context.Context, dir string) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("operation cancelled: %w", err)
	}

	raw, err := t.conn.List(dir)
	if err != nil {
		return nil, classify("list", dir, err)
	}

	entries := make([]Entry, 0, len(raw))
	for _, e := range raw {
		if e.Name == "." || e.Name == ".." {
			continue
		}
		entries = append(entries, Entry{
			Name:  e.Name,
			IsDir: e.Type == ftp.EntryTypeFolder,
			Size:  int64(e.Size),
		})
	}
	return entries, nil
}

// Open starts a RETR. The returned body must be closed before the next
// command is issued on the connection.
func (t *ftpTransport) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("operation cancelled: %w", err)
	}

	resp, err := t.conn.Retr(path)
	if err != nil {
		return nil, classify("retr", path, err)
	}
	return &classifyingReader{ReadCloser: resp, op: "read", path: path}, nil
}

// Close sends QUIT and drops the control connection.
func (t *ftpTransport) Close() error {
	if t.conn != nil {
		t.conn.Quit()
	}
	return nil
}
