package sftpmirror

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"

	"github.com/pkg/sftp"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// SFTPClientInterface abstracts the SFTP operations the mirror needs.
// This allows for mocking in tests.
type SFTPClientInterface interface {
	ReadDir(path string) ([]os.FileInfo, error)
	Open(path string) (io.ReadCloser, error)
	Close() error
}

// SFTPClientWrapper wraps the real sftp.Client to implement SFTPClientInterface.
type SFTPClientWrapper struct {
	client *sftp.Client
}

var _ SFTPClientInterface = (*SFTPClientWrapper)(nil)

func (w *SFTPClientWrapper) ReadDir(path string) ([]os.FileInfo, error) { return w.client.ReadDir(path) }
func (w *SFTPClientWrapper) Open(path string) (io.ReadCloser, error)    { return w.client.Open(path) }
func (w *SFTPClientWrapper) Close() error                               { return w.client.Close() }

// SFTPDialer opens SSH/SFTP transports, optionally through a bastion host.
type SFTPDialer struct {
	// Logger receives host key warnings. Defaults to the logrus standard logger.
	Logger logrus.FieldLogger
}

var _ Dialer = SFTPDialer{}

// Dial connects to target and starts an SFTP subsystem on it.
// Partially opened connections are closed before an error is returned.
func (d SFTPDialer) Dial(ctx context.Context, target Target) (Transport, error) {
	target = target.WithDefaults()
	logger := d.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	authMethods, err := buildAuthMethods(target)
	if err != nil {
		return nil, err
	}

	if len(authMethods) == 0 {
		return nil, fmt.Errorf("no SSH authentication method configured")
	}

	hostKeyCallback, err := buildHostKeyCallback(target, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to configure host key verification: %w", err)
	}

	sshConfig := &ssh.ClientConfig{
		User:            target.User,
		Auth:            authMethods,
		HostKeyCallback: hostKeyCallback,
		Timeout:         target.Timeout,
	}

	var bastionClient *ssh.Client
	var conn net.Conn

	targetAddr := target.Address()

	if target.BastionHost != "" {
		bastionClient, err = connectToBastion(ctx, target, logger)
		if err != nil {
			return nil, &ConnectionError{Op: "connect bastion", Path: target.BastionHost, Err: err}
		}

		conn, err = bastionClient.Dial("tcp", targetAddr)
		if err != nil {
			bastionClient.Close()
			return nil, &ConnectionError{Op: "dial through bastion", Path: targetAddr, Err: err}
		}
	} else {
		netDialer := &net.Dialer{Timeout: target.Timeout}
		conn, err = netDialer.DialContext(ctx, "tcp", targetAddr)
		if err != nil {
			return nil, &ConnectionError{Op: "dial", Path: targetAddr, Err: err}
		}
	}

	sshClient, err := newSSHClient(conn, targetAddr, sshConfig)
	if err != nil {
		conn.Close()
		if bastionClient != nil {
			bastionClient.Close()
		}
		return nil, &ConnectionError{Op: "ssh handshake", Path: targetAddr, Err: err}
	}

	rawSftpClient, err := sftp.NewClient(sshClient)
	if err != nil {
		sshClient.Close()
		if bastionClient != nil {
			bastionClient.Close()
		}
		return nil, &ConnectionError{Op: "start sftp subsystem", Path: targetAddr, Err: err}
	}

	return &sftpTransport{
		sshClient:     sshClient,
		sftpClient:    &SFTPClientWrapper{client: rawSftpClient},
		bastionClient: bastionClient,
	}, nil
}

func newSSHClient(conn net.Conn, addr string, config *ssh.ClientConfig) (*ssh.Client, error) {
	ncc, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		return nil, err
	}
	return ssh.NewClient(ncc, chans, reqs), nil
}

// sftpTransport is a Transport backed by an SFTP subsystem.
type sftpTransport struct {
	sshClient     *ssh.Client
	sftpClient    SFTPClientInterface
	bastionClient *ssh.Client // nil if no bastion host
}

var _ Transport = (*sftpTransport)(nil)

// newSFTPTransport creates a transport around an existing SFTP client.
// This is primarily used for testing with mock SFTP clients.
func newSFTPTransport(sftpClient SFTPClientInterface) *sftpTransport {
	return &sftpTransport{sftpClient: sftpClient}
}

func (t *sftpTransport) List(ctx context.Context, dir string) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("operation cancelled: %w", err)
	}

	infos, err := t.sftpClient.ReadDir(dir)
	if err != nil {
		return nil, classify("list", dir, err)
	}

	entries := make([]Entry, 0, len(infos))
	for _, info := range infos {
		name := info.Name()
		if name == "." || name == ".." {
			continue
		}
		entries = append(entries, Entry{
			Name:  name,
			IsDir: info.Mode().IsDir(),
			Size:  info.Size(),
		})
	}
	return entries, nil
}

func (t *sftpTransport) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("operation cancelled: %w", err)
	}

	file, err := t.sftpClient.Open(path)
	if err != nil {
		return nil, classify("open", path, err)
	}
	return &classifyingReader{ReadCloser: file, op: "read", path: path}, nil
}

// Close closes SFTP, SSH, and bastion connections.
func (t *sftpTransport) Close() error {
	if t.sftpClient != nil {
		t.sftpClient.Close()
	}
	if t.sshClient != nil {
		t.sshClient.Close()
	}
	if t.bastionClient != nil {
		t.bastionClient.Close()
	}
	return nil
}

// classifyingReader types the errors of a remote file body so that a
// connection dropped mid-transfer is recognised by the caller.
type classifyingReader struct {
	io.ReadCloser
	op   string
	path string
}

func (r *classifyingReader) Read(p []byte) (int, error) {
	n, err := r.ReadCloser.Read(p)
	if err != nil && err != io.EOF {
		return n, classify(r.op, r.path, err)
	}
	return n, err
}

func connectToBastion(ctx context.Context, target Target, logger logrus.FieldLogger) (*ssh.Client, error) {
	var authMethods []ssh.AuthMethod

	if target.BastionPassword != "" {
		authMethods = append(authMethods, ssh.Password(target.BastionPassword))
	} else {
		var keyData []byte
		var err error

		if target.BastionKey != "" {
			keyData = []byte(target.BastionKey)
		} else if target.BastionKeyPath != "" {
			keyData, err = os.ReadFile(target.BastionKeyPath)
			if err != nil {
				return nil, fmt.Errorf("failed to read bastion key file: %w", err)
			}
		} else if target.PrivateKey != "" {
			keyData = []byte(target.PrivateKey)
		} else if target.KeyPath != "" {
			keyData, err = os.ReadFile(target.KeyPath)
			if err != nil {
				return nil, fmt.Errorf("failed to read key file for bastion: %w", err)
			}
		} else {
			return nil, fmt.Errorf("no SSH key configured for bastion host")
		}

		signer, err := ssh.ParsePrivateKey(keyData)
		if err != nil {
			return nil, fmt.Errorf("failed to parse bastion SSH key: %w", err)
		}
		authMethods = append(authMethods, ssh.PublicKeys(signer))
	}

	bastionUser := target.BastionUser
	if bastionUser == "" {
		bastionUser = target.User
	}

	hostKeyCallback, err := buildHostKeyCallback(target, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to configure host key verification for bastion: %w", err)
	}

	bastionConfig := &ssh.ClientConfig{
		User:            bastionUser,
		Auth:            authMethods,
		HostKeyCallback: hostKeyCallback,
		Timeout:         target.Timeout,
	}

	bastionAddr := fmt.Sprintf("%s:%d", target.BastionHost, target.BastionPort)
	netDialer := &net.Dialer{Timeout: target.Timeout}
	conn, err := netDialer.DialContext(ctx, "tcp", bastionAddr)
	if err != nil {
		return nil, err
	}
	client, err := newSSHClient(conn, bastionAddr, bastionConfig)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return client, nil
}

func buildHostKeyCallback(target Target, logger logrus.FieldLogger) (ssh.HostKeyCallback, error) {
	if target.InsecureIgnoreHostKey {
		logger.WithField("host", target.Address()).Warn("SSH host key verification disabled, this is insecure")
		return ssh.InsecureIgnoreHostKey(), nil
	}

	if target.KnownHostsFile != "" {
		expandedPath := ExpandPath(target.KnownHostsFile)
		callback, err := knownhosts.New(expandedPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load known_hosts file %s: %w", expandedPath, err)
		}
		return callback, nil
	}

	defaultKnownHosts := ExpandPath(filepath.Join("~", ".ssh", "known_hosts"))
	if _, err := os.Stat(defaultKnownHosts); err == nil {
		callback, err := knownhosts.New(defaultKnownHosts)
		if err == nil {
			return callback, nil
		}
		logger.WithError(err).WithField("file", defaultKnownHosts).Warn("Could not parse known_hosts file")
	}

	logger.WithField("host", target.Address()).Warn("No known_hosts file found, host key verification disabled")
	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		return nil
	}, nil
}

func buildAuthMethods(target Target) ([]ssh.AuthMethod, error) {
	var authMethods []ssh.AuthMethod

	authMethod := target.AuthMethod
	if authMethod == "" {
		authMethod = inferAuthMethod(target)
	}

	switch authMethod {
	case AuthMethodPassword:
		if target.Password == "" {
			return nil, fmt.Errorf("password authentication requires password to be set")
		}
		authMethods = append(authMethods,
			ssh.Password(target.Password),
			ssh.KeyboardInteractive(passwordChallenge(target.Password)),
		)

	case AuthMethodCertificate:
		certAuth, err := buildCertificateAuth(target)
		if err != nil {
			return nil, fmt.Errorf("certificate authentication failed: %w", err)
		}
		authMethods = append(authMethods, certAuth)

	case AuthMethodPrivateKey:
		keyAuth, err := buildPrivateKeyAuth(target)
		if err != nil {
			return nil, err
		}
		authMethods = append(authMethods, keyAuth)
	}

	return authMethods, nil
}

// passwordChallenge answers every keyboard-interactive question with the
// password; many servers only offer that method for password logins.
func passwordChallenge(password string) ssh.KeyboardInteractiveChallenge {
	return func(user, instruction string, questions []string, echos []bool) ([]string, error) {
		answers := make([]string, len(questions))
		for i := range answers {
			answers[i] = password
		}
		return answers, nil
	}
}

func inferAuthMethod(target Target) AuthMethod {
	if target.Password != "" {
		return AuthMethodPassword
	}
	if target.Certificate != "" || target.CertificatePath != "" {
		return AuthMethodCertificate
	}
	return AuthMethodPrivateKey
}

func buildPrivateKeyAuth(target Target) (ssh.AuthMethod, error) {
	keyData, err := readPrivateKey(target)
	if err != nil {
		return nil, err
	}

	signer, err := ssh.ParsePrivateKey(keyData)
	if err != nil {
		return nil, fmt.Errorf("failed to parse SSH private key: %w", err)
	}

	return ssh.PublicKeys(signer), nil
}

func readPrivateKey(target Target) ([]byte, error) {
	switch {
	case target.PrivateKey != "":
		return []byte(target.PrivateKey), nil
	case target.KeyPath != "":
		keyData, err := os.ReadFile(target.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read SSH key file: %w", err)
		}
		return keyData, nil
	default:
		return nil, fmt.Errorf("no SSH private key provided (set private_key or key_path)")
	}
}

func buildCertificateAuth(target Target) (ssh.AuthMethod, error) {
	if target.PrivateKey == "" && target.KeyPath == "" {
		return nil, fmt.Errorf("certificate auth requires private key")
	}
	keyData, err := readPrivateKey(target)
	if err != nil {
		return nil, err
	}

	signer, err := ssh.ParsePrivateKey(keyData)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	var certData []byte
	if target.Certificate != "" {
		certData = []byte(target.Certificate)
	} else if target.CertificatePath != "" {
		certData, err = os.ReadFile(target.CertificatePath)
		if err != nil {
			return nil, fmt.Errorf("failed to read certificate file: %w", err)
		}
	} else {
		return nil, fmt.Errorf("certificate auth requires certificate")
	}

	pubKey, _, _, _, err := ssh.ParseAuthorizedKey(certData)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}

	cert, ok := pubKey.(*ssh.Certificate)
	if !ok {
		return nil, fmt.Errorf("provided file is not an SSH certificate")
	}

	certSigner, err := ssh.NewCertSigner(cert, signer)
	if err != nil {
		return nil, fmt.Errorf("failed to create certificate signer: %w", err)
	}

	return ssh.PublicKeys(certSigner), nil
}
