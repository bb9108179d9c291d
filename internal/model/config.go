package model

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// AccountConfig holds the connection settings for one IMAP account.
type AccountConfig struct {
	// ID is the unique identifier for this account, also used as the
	// keyring key for its password.
	ID string `mapstructure:"id" yaml:"id"`

	Host     string `mapstructure:"host" yaml:"host"`
	Port     int    `mapstructure:"port" yaml:"port"`
	Username string `mapstructure:"username" yaml:"username"`

	// TLS is one of "tls", "starttls" or "none".
	TLS string `mapstructure:"tls" yaml:"tls"`

	// Mailbox is the folder opened by default (e.g., "INBOX").
	Mailbox string `mapstructure:"mailbox" yaml:"mailbox"`
}

// SortingConfig is the persisted form of SortParams.
type SortingConfig struct {
	// Order lists criteria names, most significant first
	// (e.g., ["status", "date-rev"]).
	Order []string `mapstructure:"order" yaml:"order"`

	Reverse            bool     `mapstructure:"reverse" yaml:"reverse"`
	DetectOwnAddresses bool     `mapstructure:"detect_own_addresses" yaml:"detect_own_addresses"`
	OwnAddresses       []string `mapstructure:"own_addresses" yaml:"own_addresses"`
}

// ThreadingConfig is the persisted form of ThreadParams.
type ThreadingConfig struct {
	Enabled           bool   `mapstructure:"enabled" yaml:"enabled"`
	GatherSubjects    bool   `mapstructure:"gather_subjects" yaml:"gather_subjects"`
	BreakThreads      bool   `mapstructure:"break_threads" yaml:"break_threads"`
	IndentIfDummy     bool   `mapstructure:"indent_if_dummy" yaml:"indent_if_dummy"`
	RemoveListPrefix  bool   `mapstructure:"remove_list_prefix" yaml:"remove_list_prefix"`
	SimplifyingRegex  string `mapstructure:"simplifying_regex" yaml:"simplifying_regex"`
	ReplacementString string `mapstructure:"replacement_string" yaml:"replacement_string"`
}

// CacheConfig controls header retrieval.
type CacheConfig struct {
	// BatchGap is the largest run of already cached positions that is
	// still folded into a single fetch request.
	BatchGap int `mapstructure:"batch_gap" yaml:"batch_gap"`

	// FetchTimeoutSec bounds a single batch fetch.
	FetchTimeoutSec int `mapstructure:"fetch_timeout_sec" yaml:"fetch_timeout_sec"`

	// Workers is the number of concurrent batch fetches.
	Workers int `mapstructure:"workers" yaml:"workers"`

	// DBPath is the sqlite header cache used by "mlist sync".
	DBPath string `mapstructure:"db_path" yaml:"db_path"`
}

// LogConfig holds logging preferences.
type LogConfig struct {
	// Level is a zerolog level name ("debug", "info", ...).
	Level string `mapstructure:"level" yaml:"level"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	Accounts  []AccountConfig `mapstructure:"accounts" yaml:"accounts"`
	Sorting   SortingConfig   `mapstructure:"sorting" yaml:"sorting"`
	Threading ThreadingConfig `mapstructure:"threading" yaml:"threading"`
	Cache     CacheConfig     `mapstructure:"cache" yaml:"cache"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
}

// Account returns the account with the given ID, or the first account
// when id is empty.
func (c *AppConfig) Account(id string) (*AccountConfig, error) {
	if len(c.Accounts) == 0 {
		return nil, fmt.Errorf("no accounts configured")
	}
	if id == "" {
		return &c.Accounts[0], nil
	}
	for i := range c.Accounts {
		if c.Accounts[i].ID == id {
			return &c.Accounts[i], nil
		}
	}
	return nil, fmt.Errorf("account %q not found", id)
}

// SortParams converts the sorting section. Unknown criterion names are
// reported as an error.
func (c *AppConfig) SortParams() (SortParams, error) {
	p := SortParams{
		Reverse:            c.Sorting.Reverse,
		DetectOwnAddresses: c.Sorting.DetectOwnAddresses,
		OwnAddresses:       c.Sorting.OwnAddresses,
	}
	for _, name := range c.Sorting.Order {
		crit, err := ParseSortCriterion(name)
		if err != nil {
			return SortParams{}, fmt.Errorf("sorting.order: %w", err)
		}
		p.Criteria = append(p.Criteria, crit)
	}
	return p, nil
}

// SetSortParams stores p in the sorting section.
func (c *AppConfig) SetSortParams(p SortParams) {
	order := make([]string, 0, len(p.Criteria))
	for _, crit := range p.Criteria {
		order = append(order, crit.String())
	}
	c.Sorting.Order = order
	c.Sorting.Reverse = p.Reverse
	c.Sorting.DetectOwnAddresses = p.DetectOwnAddresses
	c.Sorting.OwnAddresses = p.OwnAddresses
}

// ThreadParams converts the threading section.
func (c *AppConfig) ThreadParams() ThreadParams {
	t := c.Threading
	return ThreadParams{
		UseThreading:      t.Enabled,
		GatherSubjects:    t.GatherSubjects,
		BreakThreads:      t.BreakThreads,
		IndentIfDummyNode: t.IndentIfDummy,
		RemoveListPrefix:  t.RemoveListPrefix,
		SimplifyingRegex:  t.SimplifyingRegex,
		ReplacementString: t.ReplacementString,
	}
}

// SetThreadParams stores p in the threading section.
func (c *AppConfig) SetThreadParams(p ThreadParams) {
	c.Threading = ThreadingConfig{
		Enabled:           p.UseThreading,
		GatherSubjects:    p.GatherSubjects,
		BreakThreads:      p.BreakThreads,
		IndentIfDummy:     p.IndentIfDummyNode,
		RemoveListPrefix:  p.RemoveListPrefix,
		SimplifyingRegex:  p.SimplifyingRegex,
		ReplacementString: p.ReplacementString,
	}
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/mlist/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "config.yaml")
	}
	return filepath.Join(home, ".config", "mlist", "config.yaml")
}

// DefaultDBPath returns the default header cache location.
func DefaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "mlist.db")
	}
	return filepath.Join(home, ".local", "share", "mlist", "headers.db")
}

// defaultAppConfig returns a sensible default configuration.
func defaultAppConfig() *AppConfig {
	return &AppConfig{
		Accounts: []AccountConfig{},
		Sorting: SortingConfig{
			Order: []string{"date"},
		},
		Threading: ThreadingConfig{
			Enabled:        true,
			GatherSubjects: true,
		},
		Cache: CacheConfig{
			BatchGap:        8,
			FetchTimeoutSec: 30,
			Workers:         2,
			DBPath:          DefaultDBPath(),
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// If the file does not exist, it returns a default configuration.
func LoadConfig(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetDefault("sorting.order", []string{"date"})
	v.SetDefault("threading.enabled", true)
	v.SetDefault("threading.gather_subjects", true)
	v.SetDefault("cache.batch_gap", 8)
	v.SetDefault("cache.fetch_timeout_sec", 30)
	v.SetDefault("cache.workers", 2)
	v.SetDefault("cache.db_path", DefaultDBPath())
	v.SetDefault("log.level", "info")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(*os.PathError); ok {
			return defaultAppConfig(), nil
		}
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return defaultAppConfig(), nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := defaultAppConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	for i := range cfg.Accounts {
		a := &cfg.Accounts[i]
		if a.TLS == "" {
			a.TLS = "tls"
		}
		if a.Port == 0 {
			a.Port = defaultPort(a.TLS)
		}
		if a.Mailbox == "" {
			a.Mailbox = "INBOX"
		}
	}

	return cfg, nil
}

func defaultPort(tls string) int {
	if tls == "tls" {
		return 993
	}
	return 143
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed.
func SaveConfig(path string, cfg *AppConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("accounts", cfg.Accounts)
	v.Set("sorting", cfg.Sorting)
	v.Set("threading", cfg.Threading)
	v.Set("cache", cfg.Cache)
	v.Set("log", cfg.Log)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}
