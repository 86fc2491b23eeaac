package commands

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/darshan-rambhia/sftpmirror"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const envPrefix = "SFTPMIRROR"

// File is the on-disk configuration layout.
type File struct {
	Target  sftpmirror.Target      `mapstructure:"target" yaml:"target"`
	Logging sftpmirror.LogConfig   `mapstructure:"logging" yaml:"logging"`
	Retry   sftpmirror.RetryConfig `mapstructure:"retry" yaml:"retry"`
	Metrics MetricsConfig          `mapstructure:"metrics" yaml:"metrics"`
}

// MetricsConfig controls the Prometheus textfile written after a run.
type MetricsConfig struct {
	// File is where metrics are written in text exposition format. Empty disables.
	File string `mapstructure:"file" yaml:"file"`
}

// flagKeys maps command line flags onto configuration keys.
var flagKeys = map[string]string{
	"host":                     "target.host",
	"port":                     "target.port",
	"protocol":                 "target.protocol",
	"user":                     "target.user",
	"password":                 "target.password",
	"key-path":                 "target.key_path",
	"known-hosts":              "target.known_hosts_file",
	"insecure-ignore-host-key": "target.insecure_ignore_host_key",
	"timeout":                  "target.timeout",
	"remote-root":              "target.remote_root",
	"local-root":               "target.local_root",
	"max-attempts":             "retry.max_attempts",
	"metrics-file":             "metrics.file",
	"log-level":                "logging.level",
	"log-format":               "logging.format",
	"log-output":               "logging.output",
}

// setDefaults registers every key so that SFTPMIRROR_* variables reach
// settings that have no flag and no config file entry.
func setDefaults(v *viper.Viper) {
	retry := sftpmirror.DefaultRetryConfig()

	for _, key := range []string{
		"target.host", "target.protocol", "target.user", "target.auth_method",
		"target.password", "target.private_key", "target.key_path",
		"target.certificate", "target.certificate_path", "target.known_hosts_file",
		"target.bastion_host", "target.bastion_user", "target.bastion_key",
		"target.bastion_key_path", "target.bastion_password",
		"target.remote_root", "target.local_root", "metrics.file",
	} {
		v.SetDefault(key, "")
	}
	v.SetDefault("target.port", 0)
	v.SetDefault("target.bastion_port", 0)
	v.SetDefault("target.timeout", "0s")
	v.SetDefault("target.insecure_ignore_host_key", false)
	v.SetDefault("target.ftp_tls", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("retry.max_attempts", retry.MaxAttempts)
	v.SetDefault("retry.initial_delay", retry.InitialDelay.String())
	v.SetDefault("retry.max_delay", retry.MaxDelay.String())
	v.SetDefault("retry.multiplier", retry.Multiplier)
	v.SetDefault("retry.jitter_factor", retry.JitterFactor)
}

// loadConfig merges, from highest to lowest precedence, the flags set on
// cmd, SFTPMIRROR_* environment variables, the config file and defaults.
func loadConfig(cmd *cobra.Command) (*File, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for name, key := range flagKeys {
		flag := cmd.Flags().Lookup(name)
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return nil, fmt.Errorf("failed to bind flag %q: %w", name, err)
		}
	}

	configPath, _ := cmd.Flags().GetString("config")
	if err := readConfigFile(v, configPath); err != nil {
		return nil, err
	}

	var cfg File
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// readConfigFile reads configPath, or the default location when empty.
// A missing default file is not an error; a missing explicit one is.
func readConfigFile(v *viper.Viper, configPath string) error {
	if configPath != "" {
		v.SetConfigFile(sftpmirror.ExpandPath(configPath))
	} else {
		v.AddConfigPath(configDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath == "" && (errors.As(err, &notFound) || os.IsNotExist(err)) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

func configDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "sftpmirror")
	}

	home, err := homedir.Dir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "sftpmirror")
}

func newConfigCmd() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}

	configCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Display the effective configuration",
		Long: `Display the configuration a run would use, after merging the config file,
SFTPMIRROR_* environment variables and defaults. Secrets are redacted.

Examples:
  # Show the default config
  sftpmirror config show

  # Show a specific config file
  sftpmirror config show --config /etc/sftpmirror/config.yaml`,
		Args: cobra.NoArgs,
		RunE: runConfigShow,
	})

	return configCmd
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	cfg.Target = cfg.Target.WithDefaults().Redacted()

	enc := yaml.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return enc.Close()
}
