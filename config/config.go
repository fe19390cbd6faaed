// Package config loads pgclient dial and pool settings from YAML, with
// optional hot-reload of pool limits. Grounded in the teacher's
// internal/config.Config and internal/config.Watcher.
package config

import (
	"crypto/tls"
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pgwireclient/pgclient"
	"github.com/pgwireclient/pgclient/pool"
)

// DialConfig describes how to reach and authenticate against one backend.
// It is immutable once a Connection has been dialed — unlike PoolConfig,
// it is never hot-reloaded.
type DialConfig struct {
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	Database        string `yaml:"database"`
	User            string `yaml:"user"`
	ApplicationName string `yaml:"application_name"`

	AuthMethod string `yaml:"auth_method"` // trust, cleartext, md5, scram-sha-256
	Password   string `yaml:"password"`

	SSLMode               string        `yaml:"ssl_mode"` // disable, require
	SSLInsecureSkipVerify bool          `yaml:"ssl_insecure_skip_verify"`
	DialTimeout           time.Duration `yaml:"dial_timeout"`
}

// Credential builds the pgclient.Credential implied by AuthMethod/Password.
func (d DialConfig) Credential() (pgclient.Credential, error) {
	switch d.AuthMethod {
	case "", "trust":
		return pgclient.TrustCredential(), nil
	case "cleartext":
		return pgclient.CleartextPasswordCredential(d.Password), nil
	case "md5":
		return pgclient.MD5PasswordCredential(d.Password), nil
	case "scram-sha-256":
		return pgclient.SCRAMSHA256Credential(d.Password), nil
	default:
		return pgclient.Credential{}, fmt.Errorf("config: unsupported auth_method %q", d.AuthMethod)
	}
}

// DialOptions converts this DialConfig into pgclient.DialOptions, ready for
// pgclient.Connect.
func (d DialConfig) DialOptions() (pgclient.DialOptions, error) {
	cred, err := d.Credential()
	if err != nil {
		return pgclient.DialOptions{}, err
	}
	opts := pgclient.DialOptions{
		User:            d.User,
		Database:        d.Database,
		ApplicationName: d.ApplicationName,
		Credential:      cred,
		SSL:             d.SSLMode == "require",
	}
	if opts.SSL {
		opts.SSLEnabler = pgclient.TLSClientEnabler(&tls.Config{
			ServerName:         d.Host,
			InsecureSkipVerify: d.SSLInsecureSkipVerify,
		})
	}
	return opts, nil
}

// ChannelFactory builds the TCP ChannelFactory this DialConfig describes.
func (d DialConfig) ChannelFactory() pgclient.TCPChannelFactory {
	return pgclient.TCPChannelFactory{Host: d.Host, Port: d.Port, DialTimeout: d.DialTimeout}
}

// PoolConfig mirrors pool.Config as a YAML schema with the same field names.
// Omitted fields are zero and get pool.Config's NewPool handling: the four
// sizing/timeout limits fall back to pool.DefaultConfig, an omitted
// metrics_logging_interval disables metrics logging, and an omitted
// metrics_reset_when_logged is false.
type PoolConfig struct {
	MaximumConnections         int           `yaml:"maximum_connections"`
	MaximumPendingRequests     int           `yaml:"maximum_pending_requests"`
	PendingRequestTimeout      time.Duration `yaml:"pending_request_timeout"`
	AllocatedConnectionTimeout time.Duration `yaml:"allocated_connection_timeout"`
	MetricsLoggingInterval     time.Duration `yaml:"metrics_logging_interval"`
	MetricsResetWhenLogged     bool          `yaml:"metrics_reset_when_logged"`
	IdleTimeout                time.Duration `yaml:"idle_timeout"`
}

// PoolConfig converts to the live pool.Config the ConnectionPool consumes.
func (pc PoolConfig) PoolConfig() pool.Config {
	return pool.Config{
		MaximumConnections:         pc.MaximumConnections,
		MaximumPendingRequests:     pc.MaximumPendingRequests,
		PendingRequestTimeout:      pc.PendingRequestTimeout,
		AllocatedConnectionTimeout: pc.AllocatedConnectionTimeout,
		MetricsLoggingInterval:     pc.MetricsLoggingInterval,
		MetricsResetWhenLogged:     pc.MetricsResetWhenLogged,
		IdleTimeout:                pc.IdleTimeout,
	}
}

// Config is the top-level YAML document: one dial target and its pool.
type Config struct {
	Dial DialConfig `yaml:"dial"`
	Pool PoolConfig `yaml:"pool"`
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

func substituteEnvVars(data []byte) []byte {
	return envVarPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		name := envVarPattern.FindSubmatch(match)[1]
		if val, ok := os.LookupEnv(string(name)); ok {
			return []byte(val)
		}
		return match
	})
}

// Load reads and parses a YAML config file, substituting ${VAR} references
// against the environment first (e.g. for passwords kept out of the file).
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	data = substituteEnvVars(data)

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: validating %s: %w", path, err)
	}
	return cfg, nil
}

func validate(cfg *Config) error {
	if cfg.Dial.Host == "" {
		return fmt.Errorf("dial.host is required")
	}
	if cfg.Dial.Port == 0 {
		return fmt.Errorf("dial.port is required")
	}
	if cfg.Dial.Database == "" {
		return fmt.Errorf("dial.database is required")
	}
	if cfg.Dial.User == "" {
		return fmt.Errorf("dial.user is required")
	}
	return nil
}
