package sftpmirror

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"io/fs"
	"net"
	"os"
	"path"
	"strings"
	"sync"
	"time"
)

// mockFileInfo implements os.FileInfo for testing.
type mockFileInfo struct {
	name    string
	size    int64
	mode    os.FileMode
	modTime time.Time
	isDir   bool
}

func (m *mockFileInfo) Name() string       { return m.name }
func (m *mockFileInfo) Size() int64        { return m.size }
func (m *mockFileInfo) Mode() os.FileMode  { return m.mode }
func (m *mockFileInfo) ModTime() time.Time { return m.modTime }
func (m *mockFileInfo) IsDir() bool        { return m.isDir }
func (m *mockFileInfo) Sys() any           { return nil }

// MockSFTPClient implements SFTPClientInterface for testing.
type MockSFTPClient struct {
	dirs   map[string][]os.FileInfo
	files  map[string][]byte
	errors map[string]error
	closed bool
}

// NewMockSFTPClient creates a new mock SFTP client.
func NewMockSFTPClient() *MockSFTPClient {
	return &MockSFTPClient{
		dirs:   make(map[string][]os.FileInfo),
		files:  make(map[string][]byte),
		errors: make(map[string]error),
	}
}

// Ensure MockSFTPClient implements SFTPClientInterface.
var _ SFTPClientInterface = (*MockSFTPClient)(nil)

// SetError sets an error to be returned for a specific method.
func (m *MockSFTPClient) SetError(method string, err error) {
	m.errors[method] = err
}

// SetDir sets the listing returned for dir.
func (m *MockSFTPClient) SetDir(dir string, infos ...os.FileInfo) {
	m.dirs[dir] = infos
}

// SetFile sets a file in the mock SFTP client.
func (m *MockSFTPClient) SetFile(path string, content []byte) {
	m.files[path] = content
}

func (m *MockSFTPClient) ReadDir(dir string) ([]os.FileInfo, error) {
	if err := m.errors["ReadDir"]; err != nil {
		return nil, err
	}
	infos, ok := m.dirs[dir]
	if !ok {
		return nil, os.ErrNotExist
	}
	return infos, nil
}

func (m *MockSFTPClient) Open(path string) (io.ReadCloser, error) {
	if err := m.errors["Open"]; err != nil {
		return nil, err
	}
	content, ok := m.files[path]
	if !ok {
		return nil, os.ErrNotExist
	}
	return io.NopCloser(bytes.NewReader(content)), nil
}

func (m *MockSFTPClient) Close() error {
	if err := m.errors["Close"]; err != nil {
		return err
	}
	m.closed = true
	return nil
}

func fileInfo(name string, size int64) os.FileInfo {
	return &mockFileInfo{name: name, size: size, mode: 0o644}
}

func dirInfo(name string) os.FileInfo {
	return &mockFileInfo{name: name, mode: os.ModeDir | 0o755, isDir: true}
}

// fakeRemote is an in-memory remote host. Failures are scripted per path
// and consumed one per call, so a test can say "the first two listings of
// /a/ drop the connection".
//
// A transport that returned a connection error stays broken: every later
// call on it fails too, as a dead SSH connection would.
type fakeRemote struct {
	mu sync.Mutex

	entries map[string][]Entry
	files   map[string][]byte

	dialErrs []error
	listErrs map[string][]error
	openErrs map[string][]error
	readErrs map[string][]error

	dials  int
	closes int
	lists  map[string]int
	opens  map[string]int
}

func newFakeRemote() *fakeRemote {
	r := &fakeRemote{
		entries:  make(map[string][]Entry),
		files:    make(map[string][]byte),
		listErrs: make(map[string][]error),
		openErrs: make(map[string][]error),
		readErrs: make(map[string][]error),
		lists:    make(map[string]int),
		opens:    make(map[string]int),
	}
	r.entries["/"] = nil
	return r
}

// addDir registers dir (and its ancestors). dir must end in "/".
func (r *fakeRemote) addDir(dir string) *fakeRemote {
	if dir == "/" {
		return r
	}
	if _, ok := r.entries[dir]; ok {
		return r
	}
	trimmed := strings.TrimSuffix(dir, "/")
	parent := path.Dir(trimmed)
	if parent != "/" {
		parent += "/"
	}
	r.addDir(parent)
	r.entries[dir] = nil
	r.entries[parent] = append(r.entries[parent], Entry{Name: path.Base(trimmed), IsDir: true})
	return r
}

// addFile registers a file at an absolute remote path.
func (r *fakeRemote) addFile(p, content string) *fakeRemote {
	dir := path.Dir(p)
	if dir != "/" {
		dir += "/"
	}
	r.addDir(dir)
	if _, ok := r.files[p]; !ok {
		r.entries[dir] = append(r.entries[dir], Entry{Name: path.Base(p), Size: int64(len(content))})
	}
	r.files[p] = []byte(content)
	return r
}

// addEntry lists e in dir verbatim, without a backing file.
func (r *fakeRemote) addEntry(dir string, e Entry) *fakeRemote {
	r.addDir(dir)
	r.entries[dir] = append(r.entries[dir], e)
	return r
}

func (r *fakeRemote) failDial(errs ...error) *fakeRemote {
	r.dialErrs = append(r.dialErrs, errs...)
	return r
}

func (r *fakeRemote) failList(dir string, errs ...error) *fakeRemote {
	r.listErrs[dir] = append(r.listErrs[dir], errs...)
	return r
}

func (r *fakeRemote) failOpen(p string, errs ...error) *fakeRemote {
	r.openErrs[p] = append(r.openErrs[p], errs...)
	return r
}

// failRead makes the body of p return err after half its content.
func (r *fakeRemote) failRead(p string, errs ...error) *fakeRemote {
	r.readErrs[p] = append(r.readErrs[p], errs...)
	return r
}

func pop(m map[string][]error, key string) error {
	errs := m[key]
	if len(errs) == 0 {
		return nil
	}
	m[key] = errs[1:]
	return errs[0]
}

func (r *fakeRemote) Dial(_ context.Context, _ Target) (Transport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dials++
	if len(r.dialErrs) > 0 {
		err := r.dialErrs[0]
		r.dialErrs = r.dialErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &fakeTransport{remote: r}, nil
}

func (r *fakeRemote) dialCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dials
}

func (r *fakeRemote) closeCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closes
}

type fakeTransport struct {
	remote *fakeRemote
	broken bool
	closed bool
}

var _ Transport = (*fakeTransport)(nil)

func (t *fakeTransport) fail(op, p string, err error) error {
	if IsConnectionError(err) {
		t.broken = true
	}
	return classify(op, p, err)
}

func (t *fakeTransport) dead(op, p string) error {
	if t.closed {
		return &ConnectionError{Op: op, Path: p, Err: net.ErrClosed}
	}
	if t.broken {
		return &ConnectionError{Op: op, Path: p, Err: io.ErrUnexpectedEOF}
	}
	return nil
}

func (t *fakeTransport) List(_ context.Context, dir string) ([]Entry, error) {
	r := t.remote
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := t.dead("list", dir); err != nil {
		return nil, err
	}
	r.lists[dir]++
	if err := pop(r.listErrs, dir); err != nil {
		return nil, t.fail("list", dir, err)
	}
	entries, ok := r.entries[dir]
	if !ok {
		return nil, fmt.Errorf("list %s: %w", dir, fs.ErrNotExist)
	}
	out := make([]Entry, len(entries))
	copy(out, entries)
	return out, nil
}

func (t *fakeTransport) Open(_ context.Context, p string) (io.ReadCloser, error) {
	r := t.remote
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := t.dead("open", p); err != nil {
		return nil, err
	}
	r.opens[p]++
	if err := pop(r.openErrs, p); err != nil {
		return nil, t.fail("open", p, err)
	}
	content, ok := r.files[p]
	if !ok {
		return nil, fmt.Errorf("open %s: %w", p, fs.ErrNotExist)
	}
	body := &fakeBody{transport: t, path: p, data: content}
	if err := pop(r.readErrs, p); err != nil {
		body.data = content[:len(content)/2]
		body.err = err
	}
	return body, nil
}

func (t *fakeTransport) Close() error {
	r := t.remote
	r.mu.Lock()
	defer r.mu.Unlock()
	if !t.closed {
		t.closed = true
		r.closes++
	}
	return nil
}

// fakeBody serves data, then err (or io.EOF).
type fakeBody struct {
	transport *fakeTransport
	path      string
	data      []byte
	err       error
}

func (b *fakeBody) Read(p []byte) (int, error) {
	if len(b.data) == 0 {
		if b.err != nil {
			return 0, b.transport.fail("read", b.path, b.err)
		}
		return 0, io.EOF
	}
	n := copy(p, b.data)
	b.data = b.data[n:]
	return n, nil
}

func (b *fakeBody) Close() error { return nil }
