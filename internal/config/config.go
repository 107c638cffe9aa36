// Package config loads and validates the server's YAML configuration
// file: built-in defaults first, then the file's keys layered on top,
// then validation.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/snowflakedb/snowflake/internal/bytesize"
)

// Lockdown is the subject a failed-login throttle keys on.
type Lockdown string

const (
	LockdownNone  Lockdown = "none"
	LockdownIP    Lockdown = "ip"
	LockdownToken Lockdown = "token"
)

// raw mirrors the on-disk YAML shape. Booleans are pointers so an absent
// key can be told apart from an explicit false and leave the default
// alone; string size fields are parsed into Config's byte-count fields
// after unmarshalling.
type raw struct {
	Server struct {
		Port                 int    `yaml:"port"`
		CLIPort              int    `yaml:"cli_port"`
		MaxCLILoginAttempt   int    `yaml:"max_cli_login_attempt"`
		CLILockdown          string `yaml:"cli_lockdown"`
		CLICooldownSeconds   int    `yaml:"cli_cooldown"`
		CLIAuthTimeoutMillis int    `yaml:"cli_authentication_timeout"`
		CLIInputSize         string `yaml:"cli_input_size"`
	} `yaml:"server"`

	Dir struct {
		Database string `yaml:"database"`
		Logs     string `yaml:"logs"`
	} `yaml:"dir"`

	Persistent struct {
		Enabled         *bool  `yaml:"enabled"`
		BackupSizeLimit string `yaml:"backup_size_limit"`
	} `yaml:"persistent"`

	Meids struct {
		Encrypt    *bool `yaml:"encrypt"`
		Permission int   `yaml:"permission"`
		Count      int   `yaml:"count"`
		Size       int64 `yaml:"size"`
	} `yaml:"meids"`

	Memory struct {
		Monitor *bool  `yaml:"monitor"`
		MaxSize string `yaml:"max_size"`
		MBMode  *bool  `yaml:"mb_mode"`
	} `yaml:"memory"`

	Logs struct {
		Enabled            *bool  `yaml:"enabled"`
		ShowTime           *bool  `yaml:"show_time"`
		TimeFormat         string `yaml:"time_format"`
		UseColors          *bool  `yaml:"use_colors"`
		SaveCLIConnections *bool  `yaml:"save_cli_connections"`
		SaveCLILogins      *bool  `yaml:"save_cli_logins"`
	} `yaml:"logs"`
}

// Config is the fully parsed, validated server configuration.
type Config struct {
	ServerPort               int
	CLIPort                  int
	MaxCLILoginAttempt       int
	CLILockdown              Lockdown
	CLICooldown              time.Duration
	CLIAuthenticationTimeout time.Duration
	CLIInputSize             int64 // 0 = unlimited

	DatabaseDir string
	LogsDir     string

	PersistentEnabled bool
	BackupSizeLimit   int64 // 0 = unlimited

	MeidsEncrypt    bool
	MeidsPermission os.FileMode
	MeidsCount      int
	MeidsSize       int64

	MemoryMonitor bool
	MemoryMaxSize int64
	MemoryMBMode  bool

	LogsEnabled            bool
	LogsShowTime           bool
	LogsTimeFormat         string
	LogsUseColors          bool
	LogsSaveCLIConnections bool
	LogsSaveCLILogins      bool
}

// Default returns the built-in defaults applied before a YAML file is
// loaded on top.
func Default() Config {
	return Config{
		ServerPort:               6401,
		CLIPort:                  6402,
		MaxCLILoginAttempt:       5,
		CLILockdown:              LockdownIP,
		CLICooldown:              60 * time.Second,
		CLIAuthenticationTimeout: 5000 * time.Millisecond,
		CLIInputSize:             0,
		DatabaseDir:              "./data",
		LogsDir:                  "./logs",
		PersistentEnabled:        true,
		BackupSizeLimit:          0,
		MeidsEncrypt:             false,
		MeidsPermission:          0o600,
		MeidsCount:               4,
		MeidsSize:                0,
		MemoryMonitor:            true,
		MemoryMaxSize:            0,
		MemoryMBMode:             true,
		LogsEnabled:              true,
		LogsShowTime:             true,
		LogsTimeFormat:           "2006-01-02 15:04:05",
		LogsUseColors:            true,
		LogsSaveCLIConnections:   false,
		LogsSaveCLILogins:        false,
	}
}

// Load reads and validates the YAML file at path, applying it on top of
// Default(). A config error (malformed YAML, invalid cli_lockdown value,
// cli_cooldown < 5s, cli_authentication_timeout < 1000ms) is fatal at
// startup.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %q: %w", path, err)
	}

	var r raw

	err = yaml.Unmarshal(data, &r)
	if err != nil {
		return Config{}, fmt.Errorf("config: parse %q: %w", path, err)
	}

	err = applyRaw(&cfg, r)
	if err != nil {
		return Config{}, err
	}

	err = validate(cfg)
	if err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func applyBool(dst *bool, src *bool) {
	if src != nil {
		*dst = *src
	}
}

func applyRaw(cfg *Config, r raw) error {
	if r.Server.Port != 0 {
		cfg.ServerPort = r.Server.Port
	}

	if r.Server.CLIPort != 0 {
		cfg.CLIPort = r.Server.CLIPort
	}

	if r.Server.MaxCLILoginAttempt != 0 {
		cfg.MaxCLILoginAttempt = r.Server.MaxCLILoginAttempt
	}

	if r.Server.CLILockdown != "" {
		cfg.CLILockdown = Lockdown(r.Server.CLILockdown)
	}

	if r.Server.CLICooldownSeconds != 0 {
		cfg.CLICooldown = time.Duration(r.Server.CLICooldownSeconds) * time.Second
	}

	if r.Server.CLIAuthTimeoutMillis != 0 {
		cfg.CLIAuthenticationTimeout = time.Duration(r.Server.CLIAuthTimeoutMillis) * time.Millisecond
	}

	if r.Server.CLIInputSize != "" {
		n, err := bytesize.Parse(r.Server.CLIInputSize)
		if err != nil {
			return fmt.Errorf("config: server.cli_input_size: %w", err)
		}

		cfg.CLIInputSize = n
	}

	if r.Dir.Database != "" {
		cfg.DatabaseDir = r.Dir.Database
	}

	if r.Dir.Logs != "" {
		cfg.LogsDir = r.Dir.Logs
	}

	applyBool(&cfg.PersistentEnabled, r.Persistent.Enabled)

	if r.Persistent.BackupSizeLimit != "" {
		n, err := bytesize.Parse(r.Persistent.BackupSizeLimit)
		if err != nil {
			return fmt.Errorf("config: persistent.backup_size_limit: %w", err)
		}

		cfg.BackupSizeLimit = n
	}

	applyBool(&cfg.MeidsEncrypt, r.Meids.Encrypt)

	if r.Meids.Permission != 0 {
		cfg.MeidsPermission = os.FileMode(r.Meids.Permission)
	}

	if r.Meids.Count != 0 {
		cfg.MeidsCount = r.Meids.Count
	}

	if r.Meids.Size != 0 {
		cfg.MeidsSize = r.Meids.Size
	}

	applyBool(&cfg.MemoryMonitor, r.Memory.Monitor)
	applyBool(&cfg.MemoryMBMode, r.Memory.MBMode)

	if r.Memory.MaxSize != "" {
		// mb_mode picks the unit base for the memory cap: KB=1024 when
		// true, KB=1000 when false.
		n, err := bytesize.ParseBase(r.Memory.MaxSize, cfg.MemoryMBMode)
		if err != nil {
			return fmt.Errorf("config: memory.max_size: %w", err)
		}

		cfg.MemoryMaxSize = n
	}

	applyBool(&cfg.LogsEnabled, r.Logs.Enabled)
	applyBool(&cfg.LogsShowTime, r.Logs.ShowTime)

	if r.Logs.TimeFormat != "" {
		cfg.LogsTimeFormat = r.Logs.TimeFormat
	}

	applyBool(&cfg.LogsUseColors, r.Logs.UseColors)
	applyBool(&cfg.LogsSaveCLIConnections, r.Logs.SaveCLIConnections)
	applyBool(&cfg.LogsSaveCLILogins, r.Logs.SaveCLILogins)

	return nil
}

func validate(cfg Config) error {
	switch cfg.CLILockdown {
	case LockdownNone, LockdownIP, LockdownToken:
	default:
		return fmt.Errorf("config: server.cli_lockdown must be one of ip/token/none, got %q", cfg.CLILockdown)
	}

	if cfg.CLICooldown < 5*time.Second {
		return fmt.Errorf("config: server.cli_cooldown must be >= 5s, got %s", cfg.CLICooldown)
	}

	if cfg.CLIAuthenticationTimeout < 1000*time.Millisecond {
		return fmt.Errorf("config: server.cli_authentication_timeout must be >= 1000ms, got %s", cfg.CLIAuthenticationTimeout)
	}

	if cfg.MeidsCount < 1 {
		return fmt.Errorf("config: meids.count must be >= 1, got %d", cfg.MeidsCount)
	}

	return nil
}
