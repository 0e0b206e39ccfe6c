// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads per-project indexing configuration from
// acp.config.yaml at the project root. A missing file is not an error; the
// defaults describe a sensible zero-setup project.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/acp/services/acp/annotation"
)

// FileName is the config file looked up at the project root.
const FileName = "acp.config.yaml"

// MaxConfigFileSize bounds the config file read, matching the limit applied
// to other YAML inputs.
const MaxConfigFileSize = 1 << 20

// Default tunables.
const (
	DefaultMode           = "permissive"
	DefaultMaxFileSizeMB  = 10
	DefaultDebounceMillis = 250
	DefaultServerAddr     = ":8750"
	DefaultRateLimit      = 50.0
	DefaultRateBurst      = 100
)

// Config controls indexing, watching, and serving for one project.
//
// Thread Safety: immutable after Load; safe for concurrent reads.
type Config struct {
	// Mode selects annotation parsing strictness: "permissive" recovers
	// per malformed line, "strict" fails the containing file's parse.
	Mode string `yaml:"mode" validate:"oneof=permissive strict"`

	// Workers bounds the per-file extraction pool. Zero means NumCPU.
	Workers int `yaml:"workers" validate:"gte=0,lte=256"`

	// Include restricts indexing to paths matching any of these
	// gitignore-style patterns. Empty means everything the walk reaches.
	Include []string `yaml:"include,omitempty"`

	// Exclude drops paths matching any of these gitignore-style patterns
	// after Include.
	Exclude []string `yaml:"exclude,omitempty"`

	// SkipDirs extends the built-in directory skip list.
	SkipDirs []string `yaml:"skip_dirs,omitempty"`

	// UseGitignore honors .gitignore entries during the walk.
	UseGitignore bool `yaml:"use_gitignore"`

	// MaxFileSizeMB skips files larger than this many megabytes. Zero
	// means the default.
	MaxFileSizeMB int `yaml:"max_file_size_mb" validate:"gte=0,lte=1024"`

	Watch  WatchConfig  `yaml:"watch"`
	Server ServerConfig `yaml:"server"`
}

// WatchConfig tunes the filesystem watcher.
type WatchConfig struct {
	// DebounceMillis is how long the watcher batches change events before
	// triggering an incremental update.
	DebounceMillis int `yaml:"debounce_millis" validate:"gte=0,lte=60000"`
}

// ServerConfig tunes the query server.
type ServerConfig struct {
	// Addr is the listen address.
	Addr string `yaml:"addr" validate:"required"`

	// RateLimit is the sustained request rate per client, requests per
	// second. Zero disables limiting.
	RateLimit float64 `yaml:"rate_limit" validate:"gte=0"`

	// Burst is the rate limiter's burst allowance.
	Burst int `yaml:"burst" validate:"gte=0"`
}

// Default returns the zero-setup configuration.
func Default() *Config {
	return &Config{
		Mode:          DefaultMode,
		UseGitignore:  true,
		MaxFileSizeMB: DefaultMaxFileSizeMB,
		Watch:         WatchConfig{DebounceMillis: DefaultDebounceMillis},
		Server: ServerConfig{
			Addr:      DefaultServerAddr,
			RateLimit: DefaultRateLimit,
			Burst:     DefaultRateBurst,
		},
	}
}

// Load reads acp.config.yaml under root.
//
// Description:
//
//	A missing file returns Default() with no error. A present file is
//	parsed, zero-valued fields take their defaults, and the result is
//	validated; parse or validation failures return an error rather than a
//	partially applied configuration.
func Load(root string) (*Config, error) {
	data, err := os.ReadFile(filepath.Join(root, FileName))
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", FileName, err)
	}
	return Parse(data)
}

// Parse decodes and validates raw config YAML, applying defaults for
// omitted fields.
func Parse(data []byte) (*Config, error) {
	if len(data) > MaxConfigFileSize {
		return nil, fmt.Errorf("%s exceeds maximum size (%d > %d)", FileName, len(data), MaxConfigFileSize)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", FileName, err)
	}

	if cfg.Mode == "" {
		cfg.Mode = DefaultMode
	}
	if cfg.MaxFileSizeMB == 0 {
		cfg.MaxFileSizeMB = DefaultMaxFileSizeMB
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = DefaultServerAddr
	}
	if cfg.Watch.DebounceMillis == 0 {
		cfg.Watch.DebounceMillis = DefaultDebounceMillis
	}

	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(cfg); err != nil {
		return nil, fmt.Errorf("validate %s: %w", FileName, err)
	}
	return cfg, nil
}

// AnnotationMode maps the configured mode string to the lexer's type.
func (c *Config) AnnotationMode() annotation.Mode {
	if c.Mode == string(annotation.ModeStrict) {
		return annotation.ModeStrict
	}
	return annotation.ModePermissive
}

// MaxFileSize returns the per-file size limit in bytes.
func (c *Config) MaxFileSize() int64 {
	return int64(c.MaxFileSizeMB) << 20
}
