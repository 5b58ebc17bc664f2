package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// ErrMissingCredentials is returned when the environment lacks a username or password.
var ErrMissingCredentials = errors.New("missing credentials: set FENIX_USERNAME (or IST_ID) and FENIX_PASSWORD")

// Credentials is the username/password pair submitted to the login form.
type Credentials struct {
	Username string
	Password string
}

// LogValue keeps the password out of structured logs.
func (c Credentials) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("username", c.Username),
		slog.String("password", "[REDACTED]"),
	)
}

// CredentialsFromEnv reads credentials from the process environment.
func CredentialsFromEnv() (Credentials, error) {
	username, ok := EnvString("FENIX_USERNAME")
	if !ok {
		username, _ = EnvString("IST_ID")
	}
	password, _ := EnvString("FENIX_PASSWORD")
	if username == "" || password == "" {
		return Credentials{}, ErrMissingCredentials
	}
	return Credentials{Username: username, Password: password}, nil
}

// EnvString returns the trimmed value of key and whether it was set to something non-empty.
func EnvString(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return "", false
	}
	return value, true
}

// EnvInt parses key as an integer when present.
func EnvInt(key string) (int, bool, error) {
	raw, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", key, err)
	}
	return value, true, nil
}

// ApplyEnv overlays FENIX_* environment overrides onto cfg.
func ApplyEnv(cfg *Config) error {
	if value, ok, err := EnvInt("FENIX_PARALLEL"); err != nil {
		return err
	} else if ok {
		cfg.Parallelism = value
	}
	if value, ok := EnvString("FENIX_STAGING_DIR"); ok {
		cfg.StagingDir = ExpandHome(value)
	}
	if value, ok := EnvString("FENIX_ORGANIZED_DIR"); ok {
		cfg.OrganizedDir = ExpandHome(value)
	}
	if value, ok := EnvString("FENIX_METRICS_ADDR"); ok {
		cfg.MetricsAddr = value
	}
	return nil
}
