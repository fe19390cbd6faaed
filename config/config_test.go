package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing temp file: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	yaml := `
dial:
  host: localhost
  port: 5432
  database: app
  user: alice
  application_name: pgclient-demo
  auth_method: md5
  password: ${PGCLIENT_TEST_PASSWORD}
  ssl_mode: disable

pool:
  maximum_connections: 5
  maximum_pending_requests: 50
  pending_request_timeout: 2s
  allocated_connection_timeout: 15s
  idle_timeout: 1m
`
	os.Setenv("PGCLIENT_TEST_PASSWORD", "s3cret")
	defer os.Unsetenv("PGCLIENT_TEST_PASSWORD")

	path := writeTemp(t, yaml)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Dial.Host != "localhost" || cfg.Dial.Port != 5432 {
		t.Errorf("Dial = %+v", cfg.Dial)
	}
	if cfg.Dial.Password != "s3cret" {
		t.Errorf("Password = %q, want env-substituted value", cfg.Dial.Password)
	}
	if cfg.Pool.MaximumConnections != 5 {
		t.Errorf("MaximumConnections = %d, want 5", cfg.Pool.MaximumConnections)
	}
	if cfg.Pool.PendingRequestTimeout != 2*time.Second {
		t.Errorf("PendingRequestTimeout = %v, want 2s", cfg.Pool.PendingRequestTimeout)
	}

	cred, err := cfg.Dial.Credential()
	if err != nil {
		t.Fatalf("Credential: %v", err)
	}
	if cred.Kind.String() != "md5" {
		t.Errorf("Credential kind = %v, want md5", cred.Kind)
	}

	pc := cfg.Pool.PoolConfig()
	if pc.IdleTimeout != time.Minute {
		t.Errorf("IdleTimeout = %v, want 1m", pc.IdleTimeout)
	}
}

func TestDialOptionsWiresSSLEnablerWhenRequired(t *testing.T) {
	d := DialConfig{
		Host:       "localhost",
		Port:       5432,
		Database:   "app",
		User:       "alice",
		AuthMethod: "trust",
		SSLMode:    "require",
	}
	opts, err := d.DialOptions()
	if err != nil {
		t.Fatalf("DialOptions: %v", err)
	}
	if !opts.SSL {
		t.Fatal("SSL = false, want true for ssl_mode: require")
	}
	if opts.SSLEnabler == nil {
		t.Fatal("SSLEnabler is nil, want a TLSClientEnabler wired in")
	}
}

func TestDialOptionsLeavesSSLEnablerNilWhenDisabled(t *testing.T) {
	d := DialConfig{
		Host:       "localhost",
		Port:       5432,
		Database:   "app",
		User:       "alice",
		AuthMethod: "trust",
		SSLMode:    "disable",
	}
	opts, err := d.DialOptions()
	if err != nil {
		t.Fatalf("DialOptions: %v", err)
	}
	if opts.SSL {
		t.Fatal("SSL = true, want false for ssl_mode: disable")
	}
	if opts.SSLEnabler != nil {
		t.Fatal("SSLEnabler should stay nil when SSL is disabled")
	}
}

func TestLoadRejectsMissingRequiredFields(t *testing.T) {
	path := writeTemp(t, "dial:\n  port: 5432\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected an error for missing dial.host")
	}
}

func TestLoadRejectsUnknownAuthMethod(t *testing.T) {
	yaml := `
dial:
  host: localhost
  port: 5432
  database: app
  user: alice
  auth_method: kerberos
`
	path := writeTemp(t, yaml)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, err := cfg.Dial.Credential(); err == nil {
		t.Fatal("expected an error for unsupported auth_method")
	}
}
