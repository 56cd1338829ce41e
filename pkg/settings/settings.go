// Package settings manages persistent user settings for the fleetup CLI.
//
// Settings are read with viper from ~/.fleetup/settings.yaml; every key can
// be overridden by an environment variable named FLEETUP_<KEY> with dots
// replaced by underscores (FLEETUP_REDIS_ADDR overrides redis.addr).
package settings

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/fleetup/fleetup/pkg/imagestore"
	"github.com/fleetup/fleetup/pkg/report"
	"github.com/fleetup/fleetup/pkg/util"
)

// EnvPrefix prefixes environment overrides.
const EnvPrefix = "FLEETUP"

// Settings holds persistent user preferences.
type Settings struct {
	// InventoryDir holds the device list, catalogs and credentials.
	InventoryDir string `yaml:"inventory_dir,omitempty" mapstructure:"inventory_dir"`

	// ImageServer is the URL prefix devices copy images from when no S3
	// repository is configured, e.g. ftp://10.0.0.5/.
	ImageServer string               `yaml:"image_server,omitempty" mapstructure:"image_server"`
	S3          imagestore.S3Options `yaml:"s3,omitempty" mapstructure:"s3"`

	// Redis, when configured, receives every finished run.
	Redis report.RedisOptions `yaml:"redis,omitempty" mapstructure:"redis"`

	AuditLog      string `yaml:"audit_log,omitempty" mapstructure:"audit_log"`
	Parallel      int    `yaml:"parallel,omitempty" mapstructure:"parallel"`
	MetricsFile   string `yaml:"metrics_file,omitempty" mapstructure:"metrics_file"`
	ValidationDir string `yaml:"validation_dir,omitempty" mapstructure:"validation_dir"`
	ReportDir     string `yaml:"report_dir,omitempty" mapstructure:"report_dir"`
}

// DefaultSettingsPath returns the default path for the settings file.
func DefaultSettingsPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "fleetup_settings.yaml"
	}
	return filepath.Join(home, ".fleetup", "settings.yaml")
}

// Load reads settings from the default location.
func Load() (*Settings, error) {
	return LoadFrom(DefaultSettingsPath())
}

// LoadFrom reads settings from path with environment overrides applied.
// A missing file yields settings from the environment alone.
func LoadFrom(path string) (*Settings, error) {
	v := viper.New()
	zero := &Settings{}
	for _, k := range Keys() {
		v.SetDefault(k, fields[k].get(zero))
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if _, err := os.Stat(path); err == nil {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading settings %s: %w", path, err)
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	s := &Settings{}
	if err := v.Unmarshal(s); err != nil {
		return nil, fmt.Errorf("decoding settings %s: %w", path, err)
	}
	return s, nil
}

// Save writes settings to the default location.
func (s *Settings) Save() error {
	return s.SaveTo(DefaultSettingsPath())
}

// SaveTo writes settings to path. The file may hold secrets and is
// created owner-only.
func (s *Settings) SaveTo(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	data, err := yaml.Marshal(s)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// Clear resets all settings to defaults.
func (s *Settings) Clear() {
	*s = Settings{}
}

// GetInventoryDir returns the inventory directory (with fallback).
func (s *Settings) GetInventoryDir() string {
	if s.InventoryDir != "" {
		return s.InventoryDir
	}
	return "."
}

// GetReportDir returns the report directory (with fallback).
func (s *Settings) GetReportDir() string {
	if s.ReportDir != "" {
		return s.ReportDir
	}
	return "reports"
}

type field struct {
	get func(*Settings) string
	set func(*Settings, string) error
}

func str(p func(*Settings) *string) field {
	return field{
		get: func(s *Settings) string { return *p(s) },
		set: func(s *Settings, v string) error { *p(s) = v; return nil },
	}
}

func integer(p func(*Settings) *int) field {
	return field{
		get: func(s *Settings) string { return strconv.Itoa(*p(s)) },
		set: func(s *Settings, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				return fmt.Errorf("%q is not a non-negative integer: %w", v, util.ErrInvalidConfig)
			}
			*p(s) = n
			return nil
		},
	}
}

func boolean(p func(*Settings) *bool) field {
	return field{
		get: func(s *Settings) string { return strconv.FormatBool(*p(s)) },
		set: func(s *Settings, v string) error {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("%q is not a boolean: %w", v, util.ErrInvalidConfig)
			}
			*p(s) = b
			return nil
		},
	}
}

func duration(p func(*Settings) *time.Duration) field {
	return field{
		get: func(s *Settings) string { return p(s).String() },
		set: func(s *Settings, v string) error {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%q is not a duration: %w", v, util.ErrInvalidConfig)
			}
			*p(s) = d
			return nil
		},
	}
}

var fields = map[string]field{
	"inventory_dir":        str(func(s *Settings) *string { return &s.InventoryDir }),
	"image_server":         str(func(s *Settings) *string { return &s.ImageServer }),
	"audit_log":            str(func(s *Settings) *string { return &s.AuditLog }),
	"parallel":             integer(func(s *Settings) *int { return &s.Parallel }),
	"metrics_file":         str(func(s *Settings) *string { return &s.MetricsFile }),
	"validation_dir":       str(func(s *Settings) *string { return &s.ValidationDir }),
	"report_dir":           str(func(s *Settings) *string { return &s.ReportDir }),
	"s3.endpoint":          str(func(s *Settings) *string { return &s.S3.Endpoint }),
	"s3.access_key_id":     str(func(s *Settings) *string { return &s.S3.AccessKeyID }),
	"s3.secret_access_key": str(func(s *Settings) *string { return &s.S3.SecretAccessKey }),
	"s3.use_ssl":           boolean(func(s *Settings) *bool { return &s.S3.UseSSL }),
	"s3.bucket":            str(func(s *Settings) *string { return &s.S3.Bucket }),
	"s3.region":            str(func(s *Settings) *string { return &s.S3.Region }),
	"s3.prefix":            str(func(s *Settings) *string { return &s.S3.Prefix }),
	"s3.expiry":            duration(func(s *Settings) *time.Duration { return &s.S3.Expiry }),
	"redis.addr":           str(func(s *Settings) *string { return &s.Redis.Addr }),
	"redis.password":       str(func(s *Settings) *string { return &s.Redis.Password }),
	"redis.db":             integer(func(s *Settings) *int { return &s.Redis.DB }),
	"redis.ttl":            duration(func(s *Settings) *time.Duration { return &s.Redis.TTL }),
}

// secretKeys are masked by Show.
var secretKeys = map[string]bool{"s3.secret_access_key": true, "redis.password": true}

// Keys lists every settable key in name order.
func Keys() []string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Get returns the value of key as a string.
func (s *Settings) Get(key string) (string, error) {
	f, ok := fields[key]
	if !ok {
		return "", fmt.Errorf("unknown setting %q: %w", key, util.ErrNotFound)
	}
	return f.get(s), nil
}

// Set parses value and stores it under key.
func (s *Settings) Set(key, value string) error {
	f, ok := fields[key]
	if !ok {
		return fmt.Errorf("unknown setting %q: %w", key, util.ErrNotFound)
	}
	return f.set(s, value)
}

// Show returns key/value pairs of every non-empty setting with secrets
// masked, in key order.
func (s *Settings) Show() [][2]string {
	var out [][2]string
	for _, k := range Keys() {
		v := fields[k].get(s)
		if v == "" || v == "0" || v == "false" || v == "0s" {
			continue
		}
		if secretKeys[k] {
			v = "********"
		}
		out = append(out, [2]string{k, v})
	}
	return out
}
