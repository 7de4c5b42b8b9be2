package config

import (
	"fmt"
	"os"
)

// KeyInfo is one row of `pdfdeck config show`.
type KeyInfo struct {
	Key    string
	EnvVar string
	Value  string
	// FromEnv is set when EnvVar currently overrides the stored value.
	FromEnv bool
}

// ShowAll lists every non-secret key with its effective value.
func ShowAll(cfg Config) []KeyInfo {
	result := make([]KeyInfo, 0, len(specs))
	for _, s := range specs {
		if s.secret {
			continue
		}
		result = append(result, KeyInfo{
			Key:     s.key,
			EnvVar:  s.env,
			Value:   fmt.Sprintf("%v", s.extract(cfg)),
			FromEnv: os.Getenv(s.env) != "",
		})
	}
	return result
}

// SetKey validates value against the key's type and stores it in the
// platform backend.
func SetKey(key, value string) error {
	return setKeyWith(newPlatformBackend(), key, value)
}

// UnsetKey removes a stored value so the default applies again.
func UnsetKey(key string) error {
	return unsetKeyWith(newPlatformBackend(), key)
}

func setKeyWith(b Backend, key, value string) error {
	s, err := settableKey(key)
	if err != nil {
		return err
	}
	v, err := s.parse(value)
	if err != nil {
		return err
	}
	return b.Store(key, fmt.Sprint(v))
}

func unsetKeyWith(b Backend, key string) error {
	if _, err := settableKey(key); err != nil {
		return err
	}
	return b.Remove(key)
}

func settableKey(key string) (keySpec, error) {
	for _, s := range specs {
		if s.key != key {
			continue
		}
		if s.secret {
			return keySpec{}, fmt.Errorf("%s is a secret; use %s or the platform secret store", key, s.env)
		}
		return s, nil
	}
	return keySpec{}, fmt.Errorf("unknown config key %q", key)
}

// ValidKeys returns the non-secret key names in display order.
func ValidKeys() []string {
	var keys []string
	for _, s := range specs {
		if !s.secret {
			keys = append(keys, s.key)
		}
	}
	return keys
}
