// Copyright (c) 2026 Petar Djukic. All rights reserved.
// SPDX-License-Identifier: MIT

package orchestrator

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// SchedulerConfig holds settings for the maintenance pass and its timer.
type SchedulerConfig struct {
	// Enabled turns the periodic timer on (default true). Manual runs
	// are served regardless.
	Enabled *bool `yaml:"enabled"`

	// Projects lists the project directories visited on every pass, in
	// order. A leading "~/" is expanded against $HOME.
	Projects []string `yaml:"projects"`

	// IntervalSec is the delay between timer-driven passes
	// (default 86400, i.e. one day).
	IntervalSec int `yaml:"interval_sec"`

	// SummaryFile is a path relative to each project where the latest
	// summary is written. Empty (the default) keeps the summary in the
	// status store only, so it never ends up in a maintenance commit.
	SummaryFile string `yaml:"summary_file"`

	// LogFile, when set, receives a copy of every log line.
	LogFile string `yaml:"log_file"`
}

// LLMConfig holds settings for the code-generation agent CLI.
type LLMConfig struct {
	// Binary is the agent executable (default "codex").
	Binary string `yaml:"binary"`

	// Args are passed before the provider selector and the prompt.
	// If empty, defaults to the quiet full-auto flags.
	Args []string `yaml:"args"`

	// Provider is passed as --provider when non-empty.
	Provider string `yaml:"provider"`

	// MaxTimeSec is the maximum duration in seconds for a single agent
	// invocation (default 900). The process is killed when it expires.
	MaxTimeSec int `yaml:"max_time_sec"`

	// MaxPayloadBytes caps the diff appended to the commit-message
	// prompt (default 65536). The kernel rejects single arguments above
	// 128 KiB.
	MaxPayloadBytes int `yaml:"max_payload_bytes"`

	// SummarizePrompt, PatchPrompt, and CommitPrompt are file paths to
	// custom instructions. During LoadConfig each file is read and its
	// content stored here. If empty, the embedded default is used.
	SummarizePrompt string `yaml:"summarize_prompt"`
	PatchPrompt     string `yaml:"patch_prompt"`
	CommitPrompt    string `yaml:"commit_prompt"`
}

// GitConfig holds settings for applying, committing, and pushing patches.
type GitConfig struct {
	// Remote is the push destination (default "origin").
	Remote string `yaml:"remote"`

	// Branch is pushed explicitly when set; otherwise git pushes the
	// current branch to its upstream.
	Branch string `yaml:"branch"`

	// Push enables the push step (default true). Disable for local
	// dry runs; the commit is still made.
	Push *bool `yaml:"push"`

	// MaxTimeSec bounds each git invocation (default 120).
	MaxTimeSec int `yaml:"max_time_sec"`
}

// SystemdConfig holds settings for service restarts and the unit monitor.
type SystemdConfig struct {
	// Restart enables restarting the project's unit after a push
	// (default true).
	Restart *bool `yaml:"restart"`

	// UnitSuffix is appended to the project's directory name to form
	// the unit name (default ".service").
	UnitSuffix string `yaml:"unit_suffix"`

	// ScopeArgs are passed to systemctl before the verb, e.g. ["--user"].
	ScopeArgs []string `yaml:"scope_args"`

	// MaxTimeSec bounds each systemctl invocation (default 60).
	MaxTimeSec int `yaml:"max_time_sec"`

	// Monitor enables the failed-unit listener.
	Monitor bool `yaml:"monitor"`

	// Units lists the units polled by the monitor. If empty, the units
	// derived from the configured projects are used.
	Units []string `yaml:"units"`

	// PollIntervalSec is the delay between monitor polls (default 60).
	PollIntervalSec int `yaml:"poll_interval_sec"`
}

// Store drivers.
const (
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// StoreConfig selects and locates the status store.
type StoreConfig struct {
	// Driver is one of "sqlite" (default), "postgres", or "memory".
	Driver string `yaml:"driver"`

	// Path is the SQLite database file. Defaults to
	// $XDG_DATA_HOME/pimainteno/status.db.
	Path string `yaml:"path"`

	// URL is the Postgres connection string.
	URL string `yaml:"url"`
}

// ArchiveConfig holds settings for uploading patches to an S3-compatible
// object store.
type ArchiveConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	UseSSL    bool   `yaml:"use_ssl"`

	// MaxTimeSec bounds each bucket check and upload (default 60).
	MaxTimeSec int `yaml:"max_time_sec"`
}

// WebConfig holds settings for the status API.
type WebConfig struct {
	// Addr is the listen address (default ":8080").
	Addr string `yaml:"addr"`

	// StaticDir holds dashboard assets served for unmatched routes.
	// Ignored when the directory does not exist.
	StaticDir string `yaml:"static_dir"`

	// ShutdownTimeoutSec bounds graceful shutdown (default 10).
	ShutdownTimeoutSec int `yaml:"shutdown_timeout_sec"`
}

// Config holds all daemon settings. Components receive only the section
// they need.
type Config struct {
	Scheduler SchedulerConfig `yaml:"scheduler"`
	LLM       LLMConfig       `yaml:"llm"`
	Git       GitConfig       `yaml:"git"`
	Systemd   SystemdConfig   `yaml:"systemd"`
	Store     StoreConfig     `yaml:"store"`
	Archive   ArchiveConfig   `yaml:"archive"`
	Web       WebConfig       `yaml:"web"`
}

// DefaultConfigFile is the conventional configuration filename.
const DefaultConfigFile = "pimainteno.yaml"

// defaultAgentArgs are the CLI arguments for unattended agent execution.
// Used by Config.applyDefaults when LLM.Args is empty.
var defaultAgentArgs = []string{"-q", "-a", "full-auto"}

// DefaultConfig returns a Config populated with all default values.
// The project list is left empty; the user fills it in.
func DefaultConfig() Config {
	t := true
	cfg := Config{
		Scheduler: SchedulerConfig{Enabled: &t},
		Git:       GitConfig{Push: &t},
		Systemd:   SystemdConfig{Restart: &t},
	}
	cfg.applyDefaults()
	return cfg
}

// WriteDefaultConfig writes a configuration file at the given path
// with all defaults filled in. Returns an error if the file already exists.
func WriteDefaultConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}

	cfg := DefaultConfig()
	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return fmt.Errorf("marshalling default config: %w", err)
	}

	header := "# PiMainteno configuration. List the projects to maintain under scheduler.projects.\n\n"
	return os.WriteFile(path, append([]byte(header), data...), 0o644)
}

// TimerEnabled reports whether the periodic timer should run.
func (c *Config) TimerEnabled() bool { return boolOr(c.Scheduler.Enabled, true) }

// Interval returns the delay between timer-driven passes.
func (c *SchedulerConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSec) * time.Second
}

// Timeout returns the max agent invocation time.
func (c *LLMConfig) Timeout() time.Duration {
	return time.Duration(c.MaxTimeSec) * time.Second
}

// Timeout returns the max git invocation time.
func (c *GitConfig) Timeout() time.Duration {
	return time.Duration(c.MaxTimeSec) * time.Second
}

// PushEnabled reports whether patches are pushed after committing.
func (c *GitConfig) PushEnabled() bool { return boolOr(c.Push, true) }

// Timeout returns the max systemctl invocation time.
func (c *SystemdConfig) Timeout() time.Duration {
	return time.Duration(c.MaxTimeSec) * time.Second
}

// Timeout returns the max time for one archive request.
func (c *ArchiveConfig) Timeout() time.Duration {
	return time.Duration(c.MaxTimeSec) * time.Second
}

// PollInterval returns the delay between monitor polls.
func (c *SystemdConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSec) * time.Second
}

// RestartEnabled reports whether units are restarted after a push.
func (c *SystemdConfig) RestartEnabled() bool { return boolOr(c.Restart, true) }

// ShutdownTimeout returns the graceful shutdown bound for the API server.
func (c *WebConfig) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutSec) * time.Second
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

// Validate reports configuration errors that would make the daemon
// useless or unsafe to start.
func (c *Config) Validate() error {
	var errs []error
	if len(c.Scheduler.Projects) == 0 {
		errs = append(errs, errors.New("scheduler.projects must list at least one project"))
	}
	for i, p := range c.Scheduler.Projects {
		if strings.TrimSpace(p) == "" {
			errs = append(errs, fmt.Errorf("scheduler.projects[%d] is empty", i))
		}
	}
	if c.Scheduler.IntervalSec <= 0 {
		errs = append(errs, errors.New("scheduler.interval_sec must be positive"))
	}
	switch c.Store.Driver {
	case StoreSQLite, StoreMemory:
	case StorePostgres:
		if c.Store.URL == "" {
			errs = append(errs, errors.New("store.url is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.driver %q is not one of sqlite, postgres, memory", c.Store.Driver))
	}
	if c.Archive.Enabled && (c.Archive.Endpoint == "" || c.Archive.Bucket == "") {
		errs = append(errs, errors.New("archive.endpoint and archive.bucket are required when the archive is enabled"))
	}
	return errors.Join(errs...)
}

// readFileInto reads the file at the path stored in *field and replaces
// the value with the file content. If *field is empty, it is a no-op.
func readFileInto(field *string) error {
	if *field == "" {
		return nil
	}
	content, err := os.ReadFile(*field)
	if err != nil {
		return fmt.Errorf("reading %s: %w", *field, err)
	}
	*field = string(content)
	return nil
}

// expandHome replaces a leading "~/" with the user's home directory.
func expandHome(path string) string {
	rest, ok := strings.CutPrefix(path, "~/")
	if !ok {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, rest)
}

func (c *Config) applyDefaults() {
	if c.Scheduler.IntervalSec == 0 {
		c.Scheduler.IntervalSec = 24 * 60 * 60
	}
	if c.LLM.Binary == "" {
		c.LLM.Binary = binCodex
	}
	if len(c.LLM.Args) == 0 {
		c.LLM.Args = defaultAgentArgs
	}
	if c.LLM.MaxTimeSec == 0 {
		c.LLM.MaxTimeSec = 900
	}
	if c.LLM.MaxPayloadBytes == 0 {
		c.LLM.MaxPayloadBytes = 64 << 10
	}
	if c.Git.Remote == "" {
		c.Git.Remote = "origin"
	}
	if c.Git.MaxTimeSec == 0 {
		c.Git.MaxTimeSec = 120
	}
	if c.Systemd.UnitSuffix == "" {
		c.Systemd.UnitSuffix = ".service"
	}
	if c.Systemd.MaxTimeSec == 0 {
		c.Systemd.MaxTimeSec = 60
	}
	if c.Systemd.PollIntervalSec == 0 {
		c.Systemd.PollIntervalSec = 60
	}
	if c.Archive.MaxTimeSec == 0 {
		c.Archive.MaxTimeSec = 60
	}
	if c.Store.Driver == "" {
		c.Store.Driver = StoreSQLite
	}
	if c.Web.Addr == "" {
		c.Web.Addr = ":8080"
	}
	if c.Web.ShutdownTimeoutSec == 0 {
		c.Web.ShutdownTimeoutSec = 10
	}
	for i, p := range c.Scheduler.Projects {
		c.Scheduler.Projects[i] = expandHome(p)
	}
	c.Store.Path = expandHome(c.Store.Path)
}

// LoadConfig reads a configuration YAML file and returns a Config with
// defaults applied. Prompt override paths are replaced by the content
// of the referenced files.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config file: %w", err)
	}

	for _, field := range []*string{
		&cfg.LLM.SummarizePrompt,
		&cfg.LLM.PatchPrompt,
		&cfg.LLM.CommitPrompt,
	} {
		if err := readFileInto(field); err != nil {
			return Config{}, err
		}
	}

	cfg.applyDefaults()
	return cfg, nil
}
