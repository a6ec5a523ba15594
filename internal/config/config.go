// Package config provides the configuration schema, loader, validation,
// diffing and file watcher for a starcommander fleet.
package config

import (
	"log/slog"
	"time"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Level converts l to an [slog.Level]. Unknown values map to info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	}
	return slog.LevelInfo
}

// BusBackend selects the message bus implementation.
type BusBackend string

const (
	// BusMemory keeps queues in process memory. Workers then run as
	// goroutines of the fleet process instead of child processes.
	BusMemory BusBackend = "memory"

	// BusRedis keeps queues in Redis lists shared by all processes.
	BusRedis BusBackend = "redis"
)

// IsValid reports whether b is a recognised backend.
func (b BusBackend) IsValid() bool {
	return b == BusMemory || b == BusRedis
}

// CredentialSource selects where worker credentials come from.
type CredentialSource string

const (
	// CredentialsFile reads workers and tokens from this config file.
	CredentialsFile CredentialSource = "file"

	// CredentialsPostgres reads active rows of the bots table.
	CredentialsPostgres CredentialSource = "postgres"
)

// IsValid reports whether s is a recognised credential source.
func (s CredentialSource) IsValid() bool {
	return s == CredentialsFile || s == CredentialsPostgres
}

// WorkerKind is the closed set of worker variants.
type WorkerKind string

const (
	KindAdministrative WorkerKind = "administrative"
	KindRelay          WorkerKind = "relay"
)

// kindAliases maps legacy bot type names onto worker kinds.
var kindAliases = map[string]WorkerKind{
	"administrative": KindAdministrative,
	"admin":          KindAdministrative,
	"manager":        KindAdministrative,
	"relay":          KindRelay,
	"voice_relay":    KindRelay,
}

// ParseKind resolves a kind name, accepting the legacy bot type names.
func ParseKind(s string) (WorkerKind, bool) {
	k, ok := kindAliases[s]
	return k, ok
}

// IsValid reports whether k is a canonical worker kind.
func (k WorkerKind) IsValid() bool {
	return k == KindAdministrative || k == KindRelay
}

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr = ":9090"
	DefaultAudioWait  = time.Second
	DefaultKeyPrefix  = "starcommander"
)

// Config is the root configuration structure. It is typically loaded from a
// YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Bus         BusConfig         `yaml:"bus"`
	Credentials CredentialsConfig `yaml:"credentials"`
	Workers     []WorkerConfig    `yaml:"workers"`
}

// ServerConfig holds the fleet's HTTP listener and logging settings.
type ServerConfig struct {
	// ListenAddr serves /healthz, /readyz and /metrics. Default ":9090".
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Default info.
	LogLevel LogLevel `yaml:"log_level"`
}

// BusConfig selects and configures the message bus.
type BusConfig struct {
	Backend BusBackend `yaml:"backend"`

	// AudioWait bounds how long playback waits for a frame before it
	// substitutes silence. Default 1s.
	AudioWait time.Duration `yaml:"audio_wait"`

	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig configures the Redis bus backend.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`

	// KeyPrefix namespaces every key. Default "starcommander".
	KeyPrefix string `yaml:"key_prefix"`
}

// CredentialsConfig selects the credential source.
type CredentialsConfig struct {
	Source CredentialSource `yaml:"source"`

	// PostgresDSN is required when Source is postgres.
	PostgresDSN string `yaml:"postgres_dsn"`

	// AgeIdentityFile holds the X25519 identity that decrypts encrypted
	// tokens. Required for postgres and for workers with token_encrypted.
	AgeIdentityFile string `yaml:"age_identity_file"`
}

// WorkerConfig declares one worker. Exactly one of the token fields is set
// when credentials come from the file source.
type WorkerConfig struct {
	ID   string     `yaml:"id"`
	Kind WorkerKind `yaml:"kind"`

	Token          string `yaml:"token"`
	TokenEnv       string `yaml:"token_env"`
	TokenFile      string `yaml:"token_file"`
	TokenEncrypted string `yaml:"token_encrypted"`
}

// ApplyDefaults fills unset fields with their defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Bus.Backend == "" {
		cfg.Bus.Backend = BusMemory
	}
	if cfg.Bus.AudioWait == 0 {
		cfg.Bus.AudioWait = DefaultAudioWait
	}
	if cfg.Bus.Redis.KeyPrefix == "" {
		cfg.Bus.Redis.KeyPrefix = DefaultKeyPrefix
	}
	if cfg.Credentials.Source == "" {
		cfg.Credentials.Source = CredentialsFile
	}
	for i := range cfg.Workers {
		if k, ok := ParseKind(string(cfg.Workers[i].Kind)); ok {
			cfg.Workers[i].Kind = k
		}
	}
}

// Worker returns the worker declared with id.
func (c *Config) Worker(id string) (WorkerConfig, bool) {
	for _, w := range c.Workers {
		if w.ID == id {
			return w, true
		}
	}
	return WorkerConfig{}, false
}
