package sftpmirror

import (
	"context"
	"io"

	"github.com/sirupsen/logrus"
)

// Session owns the single open connection of a backup run. Every remote
// operation of the mirror goes through it. A Session is not safe for
// concurrent use and must not be copied.
type Session struct {
	dialer    Dialer
	target    Target
	transport Transport
	healthy   bool
	logger    logrus.FieldLogger
	metrics   *Metrics

	reconnects int
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithSessionLogger sets the logger for connection events.
func WithSessionLogger(logger logrus.FieldLogger) SessionOption {
	return func(s *Session) {
		s.logger = logger
	}
}

// WithSessionMetrics records reconnects on m.
func WithSessionMetrics(m *Metrics) SessionOption {
	return func(s *Session) {
		s.metrics = m
	}
}

// Open connects to target. A first attempt that fails with a connection
// error is cleaned up and retried exactly once; any other failure is
// returned immediately.
func Open(ctx context.Context, dialer Dialer, target Target, opts ...SessionOption) (*Session, error) {
	s := &Session{
		dialer: dialer,
		target: target,
		logger: logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.connect(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Session) connect(ctx context.Context) error {
	transport, err := s.dialer.Dial(ctx, s.target)
	if err != nil {
		if !IsConnectionError(err) {
			return err
		}

		s.logger.WithError(err).WithField("host", s.target.Address()).Error("Connect failed, retrying once")
		s.Close()

		transport, err = s.dialer.Dial(ctx, s.target)
		if err != nil {
			return classify("connect", s.target.Address(), err)
		}
	}

	s.transport = transport
	s.healthy = true
	return nil
}

// Close tears the connection down. Errors are swallowed and calling Close
// on a closed session is a no-op.
func (s *Session) Close() {
	if s.transport != nil {
		_ = s.transport.Close()
		s.transport = nil
	}
	s.healthy = false
}

// Reopen closes the current connection and opens a fresh one with the same
// retry-once policy as Open.
func (s *Session) Reopen(ctx context.Context) error {
	s.logger.WithField("host", s.target.Address()).Info("Reconnecting")
	s.Close()
	s.reconnects++
	s.metrics.reconnected()
	return s.connect(ctx)
}

// IsHealthy reports whether the session is connected and no connection
// error has been seen since it was (re)opened.
func (s *Session) IsHealthy() bool {
	return s.transport != nil && s.healthy
}

// Reconnects returns how many times Reopen was called.
func (s *Session) Reconnects() int {
	return s.reconnects
}

// List returns the entries of a remote directory. Entries whose names
// cannot map to a single local path element are dropped with a warning.
func (s *Session) List(ctx context.Context, dir string) ([]Entry, error) {
	if s.transport == nil {
		return nil, &ConnectionError{Op: "list", Path: dir, Err: errNotConnected}
	}
	entries, err := s.transport.List(ctx, dir)
	if err != nil {
		s.observe(err)
		return nil, err
	}

	valid := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if !ValidEntryName(e.Name) {
			s.logger.WithFields(logrus.Fields{
				"remote_dir": dir,
				"file":       e.Name,
			}).Warn("Skipping entry with unsafe name")
			continue
		}
		valid = append(valid, e)
	}
	return valid, nil
}

// Fetch opens a remote file for reading.
func (s *Session) Fetch(ctx context.Context, path string) (io.ReadCloser, error) {
	if s.transport == nil {
		return nil, &ConnectionError{Op: "fetch", Path: path, Err: errNotConnected}
	}
	body, err := s.transport.Open(ctx, path)
	if err != nil {
		s.observe(err)
		return nil, err
	}
	return &observedReader{ReadCloser: body, session: s}, nil
}

// observe marks the session unhealthy after a connection error.
func (s *Session) observe(err error) {
	if IsConnectionError(err) {
		s.healthy = false
	}
}

type observedReader struct {
	io.ReadCloser
	session *Session
}

func (r *observedReader) Read(p []byte) (int, error) {
	n, err := r.ReadCloser.Read(p)
	if err != nil && err != io.EOF {
		r.session.observe(err)
	}
	return n, err
}
