// Package config loads server settings from the environment and the optional
// scene file.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"go.ngs.io/areamap-api/internal/adapter/overpass"
	"go.ngs.io/areamap-api/internal/domain"
)

// Config holds the server settings.
type Config struct {
	Port               string   `validate:"required,numeric"`
	CORSAllowedOrigins []string `validate:"dive,required"`

	OverpassEndpoint string  `validate:"required,url"`
	OverpassRegion   string  `validate:"required"`
	OverpassTimeout  int     `validate:"gt=0"`
	OverpassRPS      float64 `validate:"gte=0"`

	FetchTimeout    time.Duration `validate:"gt=0"`
	SceneWait       time.Duration `validate:"gt=0"`
	CacheTTL        time.Duration `validate:"gte=0"`
	CacheMaxEntries int64         `validate:"gt=0"`

	MapStyleURL     string `validate:"required,url"`
	SceneConfigPath string

	RedisAddr     string
	RedisPassword string
	RedisDB       int `validate:"gte=0"`

	LogVerbosity int `validate:"gte=0"`
}

// Load reads the configuration through getenv, usually os.Getenv.
func Load(getenv func(string) string) (Config, error) {
	env := func(key, defaultValue string) string {
		if value := getenv(key); value != "" {
			return value
		}
		return defaultValue
	}

	cfg := Config{
		Port:             env("PORT", "8080"),
		OverpassEndpoint: env("OVERPASS_ENDPOINT", overpass.DefaultEndpoint),
		OverpassRegion:   env("OVERPASS_REGION", overpass.DefaultRegion),
		MapStyleURL:      env("MAP_STYLE_URL", domain.DefaultStyleURL),
		SceneConfigPath:  getenv("SCENE_CONFIG"),
		RedisAddr:        getenv("REDIS_ADDR"),
		RedisPassword:    getenv("REDIS_PASSWORD"),
	}
	if origins := getenv("CORS_ALLOWED_ORIGINS"); origins != "" {
		for _, o := range strings.Split(origins, ",") {
			cfg.CORSAllowedOrigins = append(cfg.CORSAllowedOrigins, strings.TrimSpace(o))
		}
	}

	var err error
	if cfg.OverpassTimeout, err = atoi(env("OVERPASS_TIMEOUT", strconv.Itoa(overpass.DefaultTimeout)), "OVERPASS_TIMEOUT"); err != nil {
		return Config{}, err
	}
	if cfg.OverpassRPS, err = strconv.ParseFloat(env("OVERPASS_RPS", "1"), 64); err != nil {
		return Config{}, fmt.Errorf("invalid OVERPASS_RPS: %w", err)
	}
	if cfg.FetchTimeout, err = duration(env("FETCH_TIMEOUT", "60s"), "FETCH_TIMEOUT"); err != nil {
		return Config{}, err
	}
	if cfg.SceneWait, err = duration(env("SCENE_WAIT", "30s"), "SCENE_WAIT"); err != nil {
		return Config{}, err
	}
	if cfg.CacheTTL, err = duration(env("CACHE_TTL", "10m"), "CACHE_TTL"); err != nil {
		return Config{}, err
	}
	maxEntries, err := atoi(env("CACHE_MAX_ENTRIES", "1024"), "CACHE_MAX_ENTRIES")
	if err != nil {
		return Config{}, err
	}
	cfg.CacheMaxEntries = int64(maxEntries)
	if cfg.RedisDB, err = atoi(env("REDIS_DB", "0"), "REDIS_DB"); err != nil {
		return Config{}, err
	}
	if cfg.LogVerbosity, err = atoi(env("LOG_VERBOSITY", "0"), "LOG_VERBOSITY"); err != nil {
		return Config{}, err
	}

	if err := validator.New().Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// QueryOptions returns the Overpass settings shared by every query.
func (c Config) QueryOptions() overpass.QueryOptions {
	return overpass.QueryOptions{Region: c.OverpassRegion, Timeout: c.OverpassTimeout}
}

func atoi(s, key string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func duration(s, key string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
