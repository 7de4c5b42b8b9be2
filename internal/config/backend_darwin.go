//go:build darwin

package config

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

const (
	defaultsDomain  = "com.pdfdeck.app"
	keychainService = "pdfdeck"
)

func defaultDataDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, "Library", "Application Support", "pdfdeck")
	}
	return "pdfdeck-data"
}

// defaultsBackend keeps settings in the user defaults database via defaults(1).
type defaultsBackend struct {
	domain string
}

func newPlatformBackend() Backend {
	return defaultsBackend{domain: defaultsDomain}
}

func (b defaultsBackend) run(verb string, args ...string) (string, error) {
	out, err := exec.Command("defaults", append([]string{verb, b.domain}, args...)...).CombinedOutput()
	return strings.TrimSpace(string(out)), err
}

func (b defaultsBackend) Lookup(key string) (string, bool, error) {
	out, err := b.run("read", key)
	switch {
	case err == nil:
		return out, true, nil
	case missingDefault(err):
		return "", false, nil
	default:
		return "", false, fmt.Errorf("reading default %s: %w (%s)", key, err, out)
	}
}

func (b defaultsBackend) Store(key, value string) error {
	if out, err := b.run("write", key, "-string", value); err != nil {
		return fmt.Errorf("writing default %s: %w (%s)", key, err, out)
	}
	return nil
}

func (b defaultsBackend) Remove(key string) error {
	if out, err := b.run("delete", key); err != nil && !missingDefault(err) {
		return fmt.Errorf("deleting default %s: %w (%s)", key, err, out)
	}
	return nil
}

// missingDefault reports the exit status defaults(1) uses for an absent key.
func missingDefault(err error) bool {
	var exitErr *exec.ExitError
	return errors.As(err, &exitErr) && exitErr.ExitCode() == 1
}

// platformSecrets reads generic passwords from the login keychain, stored with
//
//	security add-generic-password -s pdfdeck -a redis_password -w <password>
type platformSecrets struct{}

func (platformSecrets) Secret(name string) (string, error) {
	out, err := exec.Command("security", "find-generic-password", "-s", keychainService, "-a", name, "-w").Output()
	if err != nil {
		return "", fmt.Errorf("keychain lookup %s: %w", name, err)
	}
	return strings.TrimSpace(string(out)), nil
}
