package sftpmirror

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/spf13/afero"
	gossh "golang.org/x/crypto/ssh"
)

const testLocalRoot = "/backup"

// generateTestRSAKey creates a test RSA private key and returns both PEM-encoded
// key content and a path to a temp file containing the key.
func generateTestRSAKey(t *testing.T) (string, string) {
	t.Helper()

	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate RSA key: %v", err)
	}

	privateKeyPEM := string(pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(privateKey),
	}))

	keyPath := filepath.Join(t.TempDir(), "test_key")
	if err := os.WriteFile(keyPath, []byte(privateKeyPEM), 0600); err != nil {
		t.Fatalf("failed to write key file: %v", err)
	}

	return privateKeyPEM, keyPath
}

// generateTestPublicKey generates a public key from an RSA private key for use in tests.
func generateTestPublicKey(t *testing.T, privateKeyPEM string) string {
	t.Helper()

	block, _ := pem.Decode([]byte(privateKeyPEM))
	if block == nil {
		t.Fatal("failed to parse PEM block")
	}

	privateKey, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		t.Fatalf("failed to parse private key: %v", err)
	}

	publicKey, err := gossh.NewPublicKey(&privateKey.PublicKey)
	if err != nil {
		t.Fatalf("failed to create SSH public key: %v", err)
	}

	return string(gossh.MarshalAuthorizedKey(publicKey))
}

// newTestTarget creates a Target with sensible defaults for testing.
func newTestTarget() Target {
	return Target{
		Host:                  "localhost",
		Port:                  22,
		User:                  "testuser",
		Password:              "secret",
		InsecureIgnoreHostKey: true,
		RemoteRoot:            "/",
		LocalRoot:             testLocalRoot,
	}
}

// newTestLogger returns a logger that records entries instead of printing them.
func newTestLogger() (*logrus.Logger, *test.Hook) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	logger.SetOutput(io.Discard)
	return logger, hook
}

// newTestBackup wires a Backup to remote and an in-memory filesystem, with
// no waits between attempts.
func newTestBackup(t testing.TB, remote *fakeRemote, fs afero.Fs, opts ...Option) (*Backup, *test.Hook) {
	t.Helper()

	logger, hook := newTestLogger()
	base := []Option{
		WithDialer(remote),
		WithFs(fs),
		WithLogger(logger),
		WithRetryConfig(NoDelayRetryConfig()),
	}
	b, err := New(newTestTarget(), append(base, opts...)...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return b, hook
}

// openTestSession opens a session on remote.
func openTestSession(t testing.TB, remote *fakeRemote) *Session {
	t.Helper()

	logger, _ := newTestLogger()
	s, err := Open(t.Context(), remote, newTestTarget(), WithSessionLogger(logger))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

// assertLocalFile verifies that a file exists on fs with the expected content.
func assertLocalFile(t *testing.T, fs afero.Fs, path, expected string) {
	t.Helper()

	content, err := afero.ReadFile(fs, path)
	if err != nil {
		t.Errorf("failed to read file %s: %v", path, err)
		return
	}
	if string(content) != expected {
		t.Errorf("file content mismatch for %s:\nexpected: %q\ngot: %q", path, expected, string(content))
	}
}

// assertLocalNotExists verifies that nothing exists at path on fs.
func assertLocalNotExists(t *testing.T, fs afero.Fs, path string) {
	t.Helper()

	if exists, _ := afero.Exists(fs, path); exists {
		t.Errorf("expected %s to not exist", path)
	}
}

// entriesWithMessage returns the recorded log entries with the given message.
func entriesWithMessage(hook *test.Hook, msg string) []*logrus.Entry {
	var out []*logrus.Entry
	for _, e := range hook.AllEntries() {
		if e.Message == msg {
			out = append(out, e)
		}
	}
	return out
}
