package sftpmirror

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/go-homedir"
)

// Protocol selects the file-transfer protocol used to reach the remote host.
type Protocol string

const (
	// ProtocolSFTP mirrors over SSH/SFTP (default).
	ProtocolSFTP Protocol = "sftp"
	// ProtocolFTP mirrors over plain FTP, or FTPS when FTPTLS is set.
	ProtocolFTP Protocol = "ftp"
)

// AuthMethod represents the SSH authentication method to use.
type AuthMethod string

const (
	// AuthMethodPrivateKey uses SSH private key authentication.
	AuthMethodPrivateKey AuthMethod = "private_key"
	// AuthMethodPassword uses password authentication.
	AuthMethodPassword AuthMethod = "password"
	// AuthMethodCertificate uses SSH certificate authentication.
	AuthMethodCertificate AuthMethod = "certificate"
)

// Target describes one backup run: where the remote tree lives, how to
// authenticate against it and where the local mirror goes.
// A Target is treated as immutable for the duration of a run.
type Target struct {
	// Host is the remote server hostname or IP address.
	Host string `mapstructure:"host" yaml:"host" validate:"required,hostname_rfc1123|ip"`

	// Port is the remote port (default 22 for sftp, 21 for ftp).
	Port int `mapstructure:"port" yaml:"port" validate:"gte=0,lte=65535"`

	// Protocol is the transfer protocol (default sftp).
	Protocol Protocol `mapstructure:"protocol" yaml:"protocol" validate:"omitempty,oneof=sftp ftp"`

	// User is the remote username.
	User string `mapstructure:"user" yaml:"user" validate:"required"`

	// AuthMethod specifies which SSH authentication method to use.
	// If not set, it is inferred from the provided credentials.
	AuthMethod AuthMethod `mapstructure:"auth_method" yaml:"auth_method" validate:"omitempty,oneof=private_key password certificate"`

	// Password is used for SSH password authentication and FTP login.
	Password string `mapstructure:"password" yaml:"password"`

	// PrivateKey is the SSH private key content (PEM encoded).
	PrivateKey string `mapstructure:"private_key" yaml:"private_key"`

	// KeyPath is the path to the SSH private key file.
	KeyPath string `mapstructure:"key_path" yaml:"key_path"`

	// Certificate is the SSH certificate content, used with a private key.
	Certificate string `mapstructure:"certificate" yaml:"certificate"`

	// CertificatePath is the path to the SSH certificate file.
	CertificatePath string `mapstructure:"certificate_path" yaml:"certificate_path"`

	// Timeout bounds connection establishment (default 30s).
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout" validate:"gte=0"`

	// KnownHostsFile is the path to a known_hosts file for host key verification.
	// If not set, defaults to ~/.ssh/known_hosts if it exists.
	KnownHostsFile string `mapstructure:"known_hosts_file" yaml:"known_hosts_file"`

	// InsecureIgnoreHostKey skips host key verification.
	// WARNING: This is insecure and should only be used for testing.
	InsecureIgnoreHostKey bool `mapstructure:"insecure_ignore_host_key" yaml:"insecure_ignore_host_key"`

	// BastionHost is the hostname or IP of a bastion/jump host.
	BastionHost string `mapstructure:"bastion_host" yaml:"bastion_host"`

	// BastionPort is the SSH port of the bastion host (default 22).
	BastionPort int `mapstructure:"bastion_port" yaml:"bastion_port" validate:"gte=0,lte=65535"`

	// BastionUser falls back to User if not set.
	BastionUser string `mapstructure:"bastion_user" yaml:"bastion_user"`

	// BastionKey falls back to PrivateKey if not set.
	BastionKey string `mapstructure:"bastion_key" yaml:"bastion_key"`

	// BastionKeyPath falls back to KeyPath if not set.
	BastionKeyPath string `mapstructure:"bastion_key_path" yaml:"bastion_key_path"`

	// BastionPassword is the password for the bastion host.
	BastionPassword string `mapstructure:"bastion_password" yaml:"bastion_password"`

	// FTPTLS enables explicit TLS (AUTH TLS) for the ftp protocol.
	FTPTLS bool `mapstructure:"ftp_tls" yaml:"ftp_tls"`

	// RemoteRoot is the remote directory the mirror starts from (e.g. "/").
	RemoteRoot string `mapstructure:"remote_root" yaml:"remote_root" validate:"required,startswith=/"`

	// LocalRoot is the local directory the remote tree is mirrored under.
	LocalRoot string `mapstructure:"local_root" yaml:"local_root" validate:"required"`
}

// WithDefaults returns a copy of the target with default values applied.
func (t Target) WithDefaults() Target {
	if t.Protocol == "" {
		t.Protocol = ProtocolSFTP
	}
	if t.Port == 0 {
		if t.Protocol == ProtocolFTP {
			t.Port = 21
		} else {
			t.Port = 22
		}
	}
	if t.Timeout == 0 {
		t.Timeout = 30 * time.Second
	}
	if t.BastionPort == 0 && t.BastionHost != "" {
		t.BastionPort = 22
	}
	if t.RemoteRoot == "" {
		t.RemoteRoot = "/"
	}
	if !strings.HasSuffix(t.RemoteRoot, "/") {
		t.RemoteRoot += "/"
	}
	t.KeyPath = ExpandPath(t.KeyPath)
	t.CertificatePath = ExpandPath(t.CertificatePath)
	t.BastionKeyPath = ExpandPath(t.BastionKeyPath)
	t.KnownHostsFile = ExpandPath(t.KnownHostsFile)
	t.LocalRoot = ExpandPath(t.LocalRoot)
	return t
}

// Address returns host:port.
func (t Target) Address() string {
	return fmt.Sprintf("%s:%d", t.Host, t.Port)
}

var validate = validator.New()

// Validate checks the target for missing or malformed fields.
func (t Target) Validate() error {
	if err := validate.Struct(t); err != nil {
		return fmt.Errorf("invalid target: %w", err)
	}
	return nil
}

// Redacted returns a copy safe to print or log.
func (t Target) Redacted() Target {
	const mask = "********"
	if t.Password != "" {
		t.Password = mask
	}
	if t.PrivateKey != "" {
		t.PrivateKey = mask
	}
	if t.BastionKey != "" {
		t.BastionKey = mask
	}
	if t.BastionPassword != "" {
		t.BastionPassword = mask
	}
	return t
}

// ExpandPath expands a leading ~ to the user's home directory.
// Paths it cannot expand are returned unchanged.
func ExpandPath(path string) string {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return path
	}
	return expanded
}
