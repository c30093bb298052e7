package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const envPrefix = "PROMPTNOTIFY_"

// LoadDotEnv loads KEY=VALUE pairs from path into the process environment.
// Variables that are already set win. A missing file is not an error.
func LoadDotEnv(path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	return nil
}

// ApplyEnv overlays secrets and addresses from PROMPTNOTIFY_* variables.
func ApplyEnv(cfg *Config) {
	applyEnvWith(cfg, os.LookupEnv)
}

func applyEnvWith(cfg *Config, lookup func(string) (string, bool)) {
	if cfg == nil {
		return
	}
	get := func(key string) (string, bool) {
		v, ok := lookup(envPrefix + key)
		if !ok {
			return "", false
		}
		return strings.TrimSpace(v), true
	}

	if v, ok := get("DB_PATH"); ok && v != "" {
		cfg.Storage.Path = v
	}
	if v, ok := get("LOG_LEVEL"); ok && v != "" {
		cfg.Logging.Level = v
	}
	if v, ok := get("REDIS_ADDR"); ok && v != "" {
		if cfg.Redis == nil {
			cfg.Redis = &RedisConfig{Enabled: true}
		}
		cfg.Redis.Addr = v
	}
	if v, ok := get("REDIS_PASSWORD"); ok && cfg.Redis != nil {
		cfg.Redis.Password = v
	}
	if v, ok := get("REDIS_DB"); ok && cfg.Redis != nil {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Redis.DB = n
		}
	}
	if v, ok := get("METRICS_TOKEN"); ok && cfg.Metrics != nil {
		cfg.Metrics.Token = v
	}
	if v, ok := get("EMAIL_TEMPLATE_ID"); ok && v != "" {
		cfg.Notify.EmailTemplateID = v
	}
}
