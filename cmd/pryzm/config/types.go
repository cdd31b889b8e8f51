// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

type PryzmConfig struct {
	// Server: the Pryzm answer service the chat talks to
	Server ServerConfig `yaml:"server"`

	// Retrieval: defaults sent with every question
	Retrieval RetrievalConfig `yaml:"retrieval"`

	// Secrets: where API keys come from (env or keychain)
	Secrets SecretsConfig `yaml:"secrets"`

	// ModelBackend: provider for direct mode (bypassing the answer service)
	ModelBackend BackendConfig `yaml:"model_backend"`

	// Logging: file logging for chat sessions
	Logging LoggingConfig `yaml:"logging"`

	// Diagnostics: opt-in trace export and metrics
	Diagnostics DiagnosticsConfig `yaml:"diagnostics"`
}

type ServerConfig struct {
	AnswerURL      string `yaml:"answer_url"`      // e.g. http://localhost:8000
	TimeoutSeconds int    `yaml:"timeout_seconds"` // e.g. 300
}

type RetrievalConfig struct {
	MaxSources   int  `yaml:"max_sources"`   // e.g. 15
	UseReranking bool `yaml:"use_reranking"` // reranker pass on retrieved chunks
}

type SecretsConfig struct {
	UseEnv         bool `yaml:"use_env"`
	UseKeychain    bool `yaml:"use_keychain"`
	TimeoutSeconds int  `yaml:"timeout_seconds,omitempty"` // per-lookup budget for keychain CLIs
}

// GetTimeout returns the per-lookup timeout for secret backends.
// Keychain helpers shell out to external tools, so lookups need a bound.
func (s SecretsConfig) GetTimeout() time.Duration {
	if s.TimeoutSeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(s.TimeoutSeconds) * time.Second
}

type BackendConfig struct {
	// Type can be "openrouter" or "openai".
	Type    string `yaml:"type"`
	BaseURL string `yaml:"base_url,omitempty"`
	Model   string `yaml:"model,omitempty"`
}

type LoggingConfig struct {
	Dir   string `yaml:"dir"`   // e.g. ~/.pryzm/logs
	Level string `yaml:"level"` // debug, info, warn, error
}

type DiagnosticsConfig struct {
	TraceExport  bool   `yaml:"trace_export"`
	OTLPEndpoint string `yaml:"otlp_endpoint,omitempty"` // e.g. localhost:4317
	Prometheus   bool   `yaml:"prometheus"`
}

// defaultLogDir resolves the per-user log directory, falling back to a
// relative path when the home directory cannot be determined.
func defaultLogDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".pryzm", "logs")
	}
	return filepath.Join(home, ".pryzm", "logs")
}

func DefaultConfig() PryzmConfig {
	return PryzmConfig{
		Server: ServerConfig{
			AnswerURL:      "http://localhost:8000",
			TimeoutSeconds: 300,
		},
		Retrieval: RetrievalConfig{
			MaxSources:   15,
			UseReranking: false,
		},
		Secrets: SecretsConfig{
			UseEnv:      true,
			UseKeychain: false,
		},
		ModelBackend: BackendConfig{
			Type:    "openrouter",
			BaseURL: "https://openrouter.ai/api/v1",
			Model:   "anthropic/claude-3.5-sonnet",
		},
		Logging: LoggingConfig{
			Dir:   defaultLogDir(),
			Level: "info",
		},
		Diagnostics: DiagnosticsConfig{
			TraceExport:  false,
			OTLPEndpoint: "localhost:4317",
			Prometheus:   false,
		},
	}
}

// Validate corrects invalid values in place, logging a warning and
// substituting the default for each field it fixes.
func Validate(cfg PryzmConfig) PryzmConfig {
	defaults := DefaultConfig()

	if cfg.Server.AnswerURL == "" {
		slog.Warn("Empty server.answer_url config, using default",
			"default", defaults.Server.AnswerURL)
		cfg.Server.AnswerURL = defaults.Server.AnswerURL
	}

	if cfg.Server.TimeoutSeconds < 1 {
		slog.Warn("Invalid server.timeout_seconds config, using default",
			"provided", cfg.Server.TimeoutSeconds, "default", defaults.Server.TimeoutSeconds)
		cfg.Server.TimeoutSeconds = defaults.Server.TimeoutSeconds
	}

	if cfg.Retrieval.MaxSources < 1 {
		slog.Warn("Invalid retrieval.max_sources config, using default",
			"provided", cfg.Retrieval.MaxSources, "default", defaults.Retrieval.MaxSources)
		cfg.Retrieval.MaxSources = defaults.Retrieval.MaxSources
	}

	if cfg.ModelBackend.Type == "" {
		cfg.ModelBackend.Type = defaults.ModelBackend.Type
	}

	if cfg.ModelBackend.Model == "" {
		cfg.ModelBackend.Model = defaults.ModelBackend.Model
	}

	if cfg.Logging.Dir == "" {
		cfg.Logging.Dir = defaults.Logging.Dir
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = defaults.Logging.Level
	}

	return cfg
}

// applyEnvOverrides layers PRYZM_* environment variables over the file
// config. OPENROUTER_MODEL is honored for parity with the answer service,
// which reads the same variable.
func applyEnvOverrides(cfg PryzmConfig) PryzmConfig {
	cfg.Server.AnswerURL = getEnvString("PRYZM_SERVER_URL", cfg.Server.AnswerURL)
	cfg.Server.TimeoutSeconds = getEnvInt("PRYZM_TIMEOUT_SECONDS", cfg.Server.TimeoutSeconds)
	cfg.Retrieval.MaxSources = getEnvInt("PRYZM_MAX_SOURCES", cfg.Retrieval.MaxSources)
	cfg.Retrieval.UseReranking = getEnvBool("PRYZM_USE_RERANKING", cfg.Retrieval.UseReranking)
	cfg.ModelBackend.Model = getEnvString("OPENROUTER_MODEL", cfg.ModelBackend.Model)
	cfg.Logging.Dir = getEnvString("PRYZM_LOG_DIR", cfg.Logging.Dir)
	cfg.Logging.Level = getEnvString("PRYZM_LOG_LEVEL", cfg.Logging.Level)
	return cfg
}

// getEnvString returns an environment variable as string, or defaultVal if not set.
func getEnvString(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// getEnvInt returns an environment variable as int, or defaultVal if not set.
func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

// getEnvBool returns an environment variable as bool, or defaultVal if not set.
func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if boolVal, err := strconv.ParseBool(val); err == nil {
			return boolVal
		}
	}
	return defaultVal
}
