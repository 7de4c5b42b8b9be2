//go:build !darwin

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
)

// xdgDir returns $env, or fallback under the home directory when unset.
func xdgDir(env, fallback string) string {
	if dir := os.Getenv(env); dir != "" {
		return dir
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, fallback)
	}
	return ""
}

func defaultDataDir() string {
	dir := xdgDir("XDG_DATA_HOME", filepath.Join(".local", "share"))
	if dir == "" {
		return "pdfdeck-data"
	}
	return filepath.Join(dir, "pdfdeck")
}

func configFilePath() string {
	dir := xdgDir("XDG_CONFIG_HOME", ".config")
	if dir == "" {
		dir = "."
	}
	return filepath.Join(dir, "pdfdeck", "config.json")
}

// fileBackend keeps settings in a flat JSON object. The file is reread on
// every call, so the CLI and a running server never hold stale copies.
type fileBackend struct {
	path string
}

func newPlatformBackend() Backend {
	return fileBackend{path: configFilePath()}
}

func (b fileBackend) read() (map[string]string, error) {
	data, err := os.ReadFile(b.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", b.path, err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", b.path, err)
	}
	values := make(map[string]string, len(raw))
	for k, v := range raw {
		switch v := v.(type) {
		case string:
			values[k] = v
		case float64:
			// Hand-edited files may carry bare numbers.
			values[k] = strconv.FormatFloat(v, 'f', -1, 64)
		default:
			values[k] = fmt.Sprint(v)
		}
	}
	return values, nil
}

func (b fileBackend) write(values map[string]string) error {
	if err := os.MkdirAll(filepath.Dir(b.path), 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	data, err := json.MarshalIndent(values, "", "  ")
	if err != nil {
		return err
	}
	tmp := b.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing %s: %w", tmp, err)
	}
	return os.Rename(tmp, b.path)
}

func (b fileBackend) Lookup(key string) (string, bool, error) {
	values, err := b.read()
	if err != nil {
		return "", false, err
	}
	v, ok := values[key]
	return v, ok, nil
}

func (b fileBackend) Store(key, value string) error {
	values, err := b.read()
	if err != nil {
		return err
	}
	values[key] = value
	return b.write(values)
}

func (b fileBackend) Remove(key string) error {
	values, err := b.read()
	if err != nil {
		return err
	}
	if _, ok := values[key]; !ok {
		return nil
	}
	delete(values, key)
	return b.write(values)
}

func secretsFilePath() string {
	return filepath.Join(defaultDataDir(), "secrets.json")
}

// platformSecrets reads a flat JSON object of secrets, for example
// {"redis_password": "..."}. The file must not be readable by others.
type platformSecrets struct {
	path string
}

func (s platformSecrets) Secret(name string) (string, error) {
	path := s.path
	if path == "" {
		path = secretsFilePath()
	}
	st, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("secrets file not available: %w", err)
	}
	if st.Mode().Perm()&0o077 != 0 {
		return "", fmt.Errorf("secrets file %s is accessible by other users (mode %04o)", path, st.Mode().Perm())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading secrets file: %w", err)
	}
	var secrets map[string]string
	if err := json.Unmarshal(data, &secrets); err != nil {
		return "", fmt.Errorf("parsing secrets file: %w", err)
	}
	v, ok := secrets[name]
	if !ok {
		return "", fmt.Errorf("secret %q not found in %s", name, path)
	}
	return v, nil
}
