package config

// Backend persists values written by `pdfdeck config set`. Values are kept
// in string form and parsed against the key's type when the config loads.
//
// On darwin the backend is the user defaults domain com.pdfdeck.app.
// Elsewhere it is a JSON object at $XDG_CONFIG_HOME/pdfdeck/config.json.
type Backend interface {
	Lookup(key string) (string, bool, error)
	Store(key, value string) error
	Remove(key string) error
}

// secretStore yields values that `config set` refuses to persist.
type secretStore interface {
	Secret(name string) (string, error)
}

// redisPasswordSecret names the Redis password in the platform secret store.
const redisPasswordSecret = "redis_password"
