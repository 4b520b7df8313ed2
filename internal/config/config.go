package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config represents the complete groksyncd configuration
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Paths   PathsConfig   `yaml:"paths"`
	Tools   ToolsConfig   `yaml:"tools"`
	Reindex ReindexConfig `yaml:"reindex"`
}

// ServerConfig configures the OpenGrok web service endpoint
type ServerConfig struct {
	URL string `yaml:"url"`
}

// PathsConfig configures local filesystem paths
type PathsConfig struct {
	SrcDir  string `yaml:"src_dir"`
	DataDir string `yaml:"data_dir"`
}

// ToolsConfig configures the external OpenGrok tool invocations
type ToolsConfig struct {
	Jar           string `yaml:"jar"`
	Base          string `yaml:"base"`
	Ctags         string `yaml:"ctags"`
	LoggingConfig string `yaml:"logging_config"`
}

// ReindexConfig configures the per-project reindex step
type ReindexConfig struct {
	Retries int `yaml:"retries"`
	Threads int `yaml:"threads"`
}

// Load reads and parses the configuration file. A missing file is not an
// error: the defaults describe the standard OpenGrok container layout.
func Load(path string) (*Config, error) {
	var cfg Config

	// Expand environment variables in path
	path = os.ExpandEnv(path)

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	// Expand environment variables in string fields
	cfg.expandEnv()

	// Apply defaults
	cfg.applyDefaults()

	// Validate
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// expandEnv expands environment variables in all string fields
func (c *Config) expandEnv() {
	c.Server.URL = os.ExpandEnv(c.Server.URL)
	c.Paths.SrcDir = os.ExpandEnv(c.Paths.SrcDir)
	c.Paths.DataDir = os.ExpandEnv(c.Paths.DataDir)
	c.Tools.Jar = os.ExpandEnv(c.Tools.Jar)
	c.Tools.Base = os.ExpandEnv(c.Tools.Base)
	c.Tools.Ctags = os.ExpandEnv(c.Tools.Ctags)
	c.Tools.LoggingConfig = os.ExpandEnv(c.Tools.LoggingConfig)
}

// applyDefaults fills in zero-value fields with the standard OpenGrok layout.
func (c *Config) applyDefaults() {
	if c.Server.URL == "" {
		c.Server.URL = "http://localhost:8080"
	}
	if c.Paths.SrcDir == "" {
		c.Paths.SrcDir = "/opengrok/src"
	}
	if c.Paths.DataDir == "" {
		c.Paths.DataDir = "/opengrok/manager_data"
	}
	if c.Tools.Jar == "" {
		c.Tools.Jar = "/opengrok/lib/opengrok.jar"
	}
	if c.Tools.Base == "" {
		c.Tools.Base = "/opengrok/"
	}
	if c.Tools.Ctags == "" {
		c.Tools.Ctags = "/usr/local/bin/ctags"
	}
	if c.Tools.LoggingConfig == "" {
		c.Tools.LoggingConfig = "/opengrok/etc/logging.properties"
	}
	if c.Reindex.Retries == 0 {
		c.Reindex.Retries = 3
	}
	if c.Reindex.Threads == 0 {
		c.Reindex.Threads = runtime.NumCPU()
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.Server.URL == "" {
		return fmt.Errorf("server.url is required")
	}
	if strings.HasSuffix(c.Server.URL, "/") {
		return fmt.Errorf("server.url must not end with a slash: %s", c.Server.URL)
	}

	if c.Paths.SrcDir == "" {
		return fmt.Errorf("paths.src_dir is required")
	}
	if c.Paths.DataDir == "" {
		return fmt.Errorf("paths.data_dir is required")
	}

	// Ensure paths are absolute
	if !filepath.IsAbs(c.Paths.SrcDir) {
		return fmt.Errorf("paths.src_dir must be an absolute path: %s", c.Paths.SrcDir)
	}
	if !filepath.IsAbs(c.Paths.DataDir) {
		return fmt.Errorf("paths.data_dir must be an absolute path: %s", c.Paths.DataDir)
	}

	if c.Reindex.Retries < 1 {
		return fmt.Errorf("reindex.retries must be at least 1: %d", c.Reindex.Retries)
	}
	if c.Reindex.Threads < 1 {
		return fmt.Errorf("reindex.threads must be at least 1: %d", c.Reindex.Threads)
	}

	return nil
}

// SourceDir returns the directory holding a project's acquired source tree
func (c *Config) SourceDir(name string) string {
	return filepath.Join(c.Paths.SrcDir, name)
}

// ProjectDataDir returns the directory holding a project's metadata
func (c *Config) ProjectDataDir(name string) string {
	return filepath.Join(c.Paths.DataDir, name)
}

// RecordPath returns the canonical path of a project's persisted record
func (c *Config) RecordPath(name string) string {
	return filepath.Join(c.Paths.DataDir, name, "project.json")
}

// ArchivePath returns the path of a project's downloaded archive file
func (c *Config) ArchivePath(name, extension string) string {
	return filepath.Join(c.Paths.DataDir, name, "archive."+extension)
}

// LegacyRecordPaths returns the ordered list of legacy record locations
// consulted (and migrated) before the canonical record is read or written.
func (c *Config) LegacyRecordPaths(name string) []string {
	return []string{
		filepath.Join(c.Paths.SrcDir, name+".project.json"),
		filepath.Join(c.Paths.DataDir, name+".project.json"),
	}
}
