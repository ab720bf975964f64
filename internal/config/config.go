package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Output formats
const (
	FormatMarkdown = "markdown"
	FormatPlain    = "plain"
	FormatJSON     = "json"
)

// Redactor interface allows swapping redaction strategies
type Redactor interface {
	Redact(input string) (string, int)                                           // returns redacted string and count of secrets found
	RedactWithDetails(input string, verbose bool) (string, int, []FindingDetail) // returns redacted string, count, and details for verbose output
}

// FindingDetail describes a detected secret without carrying the secret itself
type FindingDetail struct {
	RuleID      string
	Description string
	StartLine   int
	StartColumn int
	EndColumn   int
	Entropy     float32
	Tags        []string
	Fingerprint string
}

// Credentials selects how requests to GitHub are authenticated
type Credentials struct {
	Token          string
	AppID          string
	PrivateKeyPath string
}

// HasApp reports whether GitHub App credentials are configured
func (c Credentials) HasApp() bool {
	return c.AppID != "" && c.PrivateKeyPath != ""
}

// Config holds CLI flags, environment variables and config file values
type Config struct {
	Credentials Credentials
	APIURL      string
	Workflow    string
	RunID       int64
	Runs        int
	PerPage     int
	Concurrency int
	Timeout     time.Duration
	Format      string
	NoRedact    bool
	Verbose     bool
}

// NewConfig creates a new Config with defaults
func NewConfig() *Config {
	return &Config{
		APIURL:      "https://api.github.com/",
		Runs:        10,
		PerPage:     10,
		Concurrency: 4,
		Timeout:     5 * time.Minute,
		Format:      FormatMarkdown,
	}
}

// key -> environment variables, in precedence order
var envBindings = map[string][]string{
	"token":            {"ISWITH_TOKEN", "GITHUB_TOKEN"},
	"app_id":           {"ISWITH_APP_ID", "GITHUB_APP_ID"},
	"private_key_path": {"ISWITH_PRIVATE_KEY_PATH", "GITHUB_PRIVATE_KEY_PATH"},
	"api_url":          {"ISWITH_API_URL", "GITHUB_API_URL"},
}

// flag name -> config key
var flagBindings = map[string]string{
	"token":       "token",
	"app-id":      "app_id",
	"private-key": "private_key_path",
	"api-url":     "api_url",
	"workflow":    "workflow",
	"run":         "run_id",
	"runs":        "runs",
	"per-page":    "per_page",
	"concurrency": "concurrency",
	"timeout":     "timeout",
	"format":      "format",
	"no-redact":   "no_redact",
	"verbose":     "verbose",
}

// Load resolves configuration from, lowest precedence first: defaults, an
// optional .iswith.yaml in the working or home directory, environment
// variables, and the given flags.
func Load(v *viper.Viper, flags *pflag.FlagSet) (*Config, error) {
	def := NewConfig()
	v.SetDefault("api_url", def.APIURL)
	v.SetDefault("runs", def.Runs)
	v.SetDefault("per_page", def.PerPage)
	v.SetDefault("concurrency", def.Concurrency)
	v.SetDefault("timeout", def.Timeout)
	v.SetDefault("format", def.Format)

	v.SetConfigName(".iswith")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("ISWITH")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	for key, envs := range envBindings {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return nil, err
		}
	}

	if flags != nil {
		for name, key := range flagBindings {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, err
				}
			}
		}
	}

	cfg := &Config{
		Credentials: Credentials{
			Token:          strings.TrimSpace(v.GetString("token")),
			AppID:          strings.TrimSpace(v.GetString("app_id")),
			PrivateKeyPath: strings.TrimSpace(v.GetString("private_key_path")),
		},
		APIURL:      v.GetString("api_url"),
		Workflow:    v.GetString("workflow"),
		RunID:       v.GetInt64("run_id"),
		Runs:        v.GetInt("runs"),
		PerPage:     v.GetInt("per_page"),
		Concurrency: v.GetInt("concurrency"),
		Timeout:     v.GetDuration("timeout"),
		Format:      strings.ToLower(v.GetString("format")),
		NoRedact:    v.GetBool("no_redact"),
		Verbose:     v.GetBool("verbose"),
	}
	if !strings.HasSuffix(cfg.APIURL, "/") {
		cfg.APIURL += "/"
	}
	return cfg, cfg.Validate()
}

// Validate checks value ranges and combinations
func (c *Config) Validate() error {
	switch c.Format {
	case FormatMarkdown, FormatPlain, FormatJSON:
	default:
		return fmt.Errorf("invalid format: %s (must be 'markdown', 'plain' or 'json')", c.Format)
	}
	if c.Concurrency < 1 || c.Concurrency > 16 {
		return fmt.Errorf("invalid concurrency: %d (must be between 1 and 16)", c.Concurrency)
	}
	if c.Runs < 1 {
		return fmt.Errorf("invalid runs: %d (must be at least 1)", c.Runs)
	}
	if c.PerPage < 1 || c.PerPage > 100 {
		return fmt.Errorf("invalid per-page: %d (must be between 1 and 100)", c.PerPage)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("invalid timeout: %s", c.Timeout)
	}
	if (c.Credentials.AppID == "") != (c.Credentials.PrivateKeyPath == "") {
		return fmt.Errorf("GitHub App authentication needs both an app id and a private key path")
	}
	return nil
}
