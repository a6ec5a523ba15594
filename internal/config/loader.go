package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// workerIDPattern restricts ids to characters that are safe inside bus keys
// and process arguments.
var workerIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. Unknown keys are rejected.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing all validation failures found. Suspicious but
// workable settings are logged as warnings.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.Bus.Backend != "" && !cfg.Bus.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("bus.backend %q is invalid; valid values: memory, redis", cfg.Bus.Backend))
	}
	if cfg.Bus.Backend == BusRedis && cfg.Bus.Redis.Addr == "" {
		errs = append(errs, errors.New("bus.redis.addr is required when bus.backend is redis"))
	}
	if cfg.Bus.AudioWait < 0 {
		errs = append(errs, fmt.Errorf("bus.audio_wait %s must not be negative", cfg.Bus.AudioWait))
	}

	src := cfg.Credentials.Source
	if src != "" && !src.IsValid() {
		errs = append(errs, fmt.Errorf("credentials.source %q is invalid; valid values: file, postgres", src))
	}
	if src == CredentialsPostgres {
		if cfg.Credentials.PostgresDSN == "" {
			errs = append(errs, errors.New("credentials.postgres_dsn is required when credentials.source is postgres"))
		}
		if cfg.Credentials.AgeIdentityFile == "" {
			errs = append(errs, errors.New("credentials.age_identity_file is required when credentials.source is postgres"))
		}
		if len(cfg.Workers) > 0 {
			slog.Warn("credentials.source is postgres; workers declared in the config file are ignored", "count", len(cfg.Workers))
		}
	}

	seen := make(map[string]int, len(cfg.Workers))
	for i, w := range cfg.Workers {
		prefix := fmt.Sprintf("workers[%d]", i)
		switch {
		case w.ID == "":
			errs = append(errs, fmt.Errorf("%s.id is required", prefix))
		case !workerIDPattern.MatchString(w.ID):
			errs = append(errs, fmt.Errorf("%s.id %q may only contain letters, digits, '.', '_' and '-'", prefix, w.ID))
		default:
			if prev, ok := seen[w.ID]; ok {
				errs = append(errs, fmt.Errorf("%s.id %q is a duplicate of workers[%d]", prefix, w.ID, prev))
			}
			seen[w.ID] = i
		}
		if !w.Kind.IsValid() {
			errs = append(errs, fmt.Errorf("%s.kind %q is invalid; valid values: administrative, relay", prefix, w.Kind))
		}
		if src != CredentialsPostgres {
			errs = append(errs, validateToken(prefix, w, cfg.Credentials)...)
		}
	}

	if cfg.Bus.Backend == BusMemory {
		slog.Debug("bus.backend is memory; workers run inside the fleet process and are unreachable from other processes")
	}

	return errors.Join(errs...)
}

func validateToken(prefix string, w WorkerConfig, creds CredentialsConfig) []error {
	n := 0
	for _, v := range []string{w.Token, w.TokenEnv, w.TokenFile, w.TokenEncrypted} {
		if v != "" {
			n++
		}
	}
	switch {
	case n == 0:
		return []error{fmt.Errorf("%s needs one of token, token_env, token_file, token_encrypted", prefix)}
	case n > 1:
		return []error{fmt.Errorf("%s sets more than one of token, token_env, token_file, token_encrypted", prefix)}
	}
	if w.TokenEncrypted != "" && creds.AgeIdentityFile == "" {
		return []error{fmt.Errorf("%s.token_encrypted requires credentials.age_identity_file", prefix)}
	}
	if w.Token != "" {
		slog.Warn("worker token is stored in plain text; prefer token_env or token_file", "worker", w.ID)
	}
	return nil
}
