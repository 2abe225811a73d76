// Package config loads exporter settings from defaults, an optional config
// file and NRC_-prefixed environment variables.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
	nrcexport "github.com/williamtriinh/nrc-to-strava"
	"github.com/williamtriinh/nrc-to-strava/gpx"
	"github.com/williamtriinh/nrc-to-strava/nike"
	"github.com/williamtriinh/nrc-to-strava/pipeline"
)

const EnvPrefix = "NRC"

type Config struct {
	ExportDir     string        `mapstructure:"export_dir"`
	APIBaseURL    string        `mapstructure:"api_base_url"`
	BearerToken   string        `mapstructure:"bearer_token"`
	PageSize      int           `mapstructure:"page_size"`
	Workers       int           `mapstructure:"workers"`
	FailurePolicy string        `mapstructure:"failure_policy"`
	FileNaming    string        `mapstructure:"file_naming"`
	FetchTimeout  time.Duration `mapstructure:"fetch_timeout"`
	SourceMode    string        `mapstructure:"source_mode"`
	DistanceModel string        `mapstructure:"distance_model"`
	SamplesFormat string        `mapstructure:"samples_format"`
	GPXCreator    string        `mapstructure:"gpx_creator"`
	ListenAddr    string        `mapstructure:"listen_addr"`
	LogLevel      string        `mapstructure:"log_level"`
	VerifyFIT     bool          `mapstructure:"verify_fit"`
	WriteManifest bool          `mapstructure:"write_manifest"`
}

var defaults = map[string]any{
	"export_dir":     "./exports",
	"api_base_url":   nike.DefaultBaseURL,
	"bearer_token":   "",
	"page_size":      nike.DefaultPageSize,
	"workers":        1,
	"failure_policy": string(pipeline.AbortOnFirst),
	"file_naming":    string(pipeline.NamingTimestamp),
	"fetch_timeout":  30 * time.Second,
	"source_mode":    nrcexport.SourceAuto.String(),
	"distance_model": nrcexport.Ellipsoid.String(),
	"samples_format": string(pipeline.SamplesNone),
	"gpx_creator":    gpx.DefaultCreator,
	"listen_addr":    "127.0.0.1:8080",
	"log_level":      "info",
	"verify_fit":     false,
	"write_manifest": false,
}

// Load reads settings. path may be empty; when set, the file must exist and
// its format is taken from the extension. Environment variables such as
// NRC_EXPORT_DIR override both.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks every enumerated setting.
func (c Config) Validate() error {
	if strings.TrimSpace(c.ExportDir) == "" {
		return fmt.Errorf("export_dir is required")
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be >= 1, got %d", c.Workers)
	}
	if c.FetchTimeout < 0 {
		return fmt.Errorf("fetch_timeout must not be negative")
	}
	if _, err := c.PipelineOptions(); err != nil {
		return err
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// PipelineOptions converts the settings into coordinator options.
func (c Config) PipelineOptions() (pipeline.Options, error) {
	policy, err := pipeline.ParseFailurePolicy(c.FailurePolicy)
	if err != nil {
		return pipeline.Options{}, err
	}
	naming, err := pipeline.ParseFileNaming(c.FileNaming)
	if err != nil {
		return pipeline.Options{}, err
	}
	samples, err := pipeline.ParseSamplesFormat(c.SamplesFormat)
	if err != nil {
		return pipeline.Options{}, err
	}
	mode, err := nrcexport.ParseSourceMode(c.SourceMode)
	if err != nil {
		return pipeline.Options{}, err
	}
	model, err := nrcexport.ParseDistanceModel(c.DistanceModel)
	if err != nil {
		return pipeline.Options{}, err
	}
	return pipeline.Options{
		ExportDir:     c.ExportDir,
		Workers:       c.Workers,
		FailurePolicy: policy,
		FileNaming:    naming,
		FetchTimeout:  c.FetchTimeout,
		SourceMode:    mode,
		DistanceModel: model,
		SamplesFormat: samples,
		GPX:           gpx.Options{Creator: c.GPXCreator},
		VerifyFIT:     c.VerifyFIT,
		WriteManifest: c.WriteManifest,
	}, nil
}

// NikeConfig returns the API client settings.
func (c Config) NikeConfig(logger *slog.Logger) nike.Config {
	return nike.Config{
		BaseURL:     c.APIBaseURL,
		BearerToken: c.BearerToken,
		PageSize:    c.PageSize,
		Logger:      logger,
	}
}

// Level parses log_level.
func (c Config) Level() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(c.LogLevel))); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log_level %q: %w", c.LogLevel, err)
	}
	return lvl, nil
}

// NewLogger returns a text logger writing to w at the configured level.
func (c Config) NewLogger(w io.Writer) *slog.Logger {
	lvl, err := c.Level()
	if err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
}
