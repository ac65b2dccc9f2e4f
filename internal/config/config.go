// Package config loads the agent configuration from a YAML file, the
// environment and command-line flags, in increasing order of precedence.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. RC_AGENT_LOG_LEVEL.
const EnvPrefix = "RC_AGENT"

// Config is the root agent configuration.
type Config struct {
	Server  ServerConfig  `mapstructure:"server" yaml:"server"`
	Codec   CodecConfig   `mapstructure:"codec" yaml:"codec"`
	Poll    PollConfig    `mapstructure:"poll" yaml:"poll"`
	Tasks   TasksConfig   `mapstructure:"tasks" yaml:"tasks"`
	Results ResultsConfig `mapstructure:"results" yaml:"results"`
	Log     LogConfig     `mapstructure:"log" yaml:"log"`
}

// ServerConfig selects the control channel.
type ServerConfig struct {
	// Transport: udp, http or websocket
	Transport    string        `mapstructure:"transport" yaml:"transport"`
	Address      string        `mapstructure:"address" yaml:"address"`
	BaseURL      string        `mapstructure:"base_url" yaml:"base_url"`
	WebSocketURL string        `mapstructure:"websocket_url" yaml:"websocket_url"`
	Paths        PathsConfig   `mapstructure:"paths" yaml:"paths"`
	ReplyTimeout time.Duration `mapstructure:"reply_timeout" yaml:"reply_timeout"`
	// LocalPortMin and LocalPortMax bound the random local UDP port. Zero
	// lets the OS choose.
	LocalPortMin int `mapstructure:"local_port_min" yaml:"local_port_min"`
	LocalPortMax int `mapstructure:"local_port_max" yaml:"local_port_max"`
}

// PathsConfig holds the control endpoints.
type PathsConfig struct {
	Register string `mapstructure:"register" yaml:"register"`
	Tasks    string `mapstructure:"tasks" yaml:"tasks"`
	Results  string `mapstructure:"results" yaml:"results"`
}

// CodecConfig tunes the datagram wire format.
type CodecConfig struct {
	Compression bool `mapstructure:"compression" yaml:"compression"`
	Quality     int  `mapstructure:"quality" yaml:"quality"`
	Window      int  `mapstructure:"window" yaml:"window"`
	// Checksum: xmodem or gsm
	Checksum string `mapstructure:"checksum" yaml:"checksum"`
	// Key is the hex obfuscation key. KeyFile, when set, takes precedence.
	Key             string `mapstructure:"key" yaml:"key"`
	KeyFile         string `mapstructure:"key_file" yaml:"key_file"`
	MaxDecompressed int64  `mapstructure:"max_decompressed" yaml:"max_decompressed"`
}

// PollConfig drives the poll loop.
type PollConfig struct {
	Interval           time.Duration `mapstructure:"interval" yaml:"interval"`
	RegisterBackoff    time.Duration `mapstructure:"register_backoff" yaml:"register_backoff"`
	RegisterBackoffMax time.Duration `mapstructure:"register_backoff_max" yaml:"register_backoff_max"`
	Settle             time.Duration `mapstructure:"settle" yaml:"settle"`
	// DefaultMinDelay and DefaultMaxDelay, in milliseconds, replace inverted
	// task start delay bounds.
	DefaultMinDelay uint32 `mapstructure:"default_min_delay" yaml:"default_min_delay"`
	DefaultMaxDelay uint32 `mapstructure:"default_max_delay" yaml:"default_max_delay"`
}

// TasksConfig configures task handlers.
type TasksConfig struct {
	Shell          string      `mapstructure:"shell" yaml:"shell"`
	MaxOutputBytes int         `mapstructure:"max_output_bytes" yaml:"max_output_bytes"`
	Probe          ProbeConfig `mapstructure:"probe" yaml:"probe"`
}

// ProbeConfig configures port probe tasks.
type ProbeConfig struct {
	Hosts   []string      `mapstructure:"hosts" yaml:"hosts"`
	Ports   []int         `mapstructure:"ports" yaml:"ports"`
	Workers int           `mapstructure:"workers" yaml:"workers"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// ResultsConfig configures where results come from and wait.
type ResultsConfig struct {
	// Spool persists unsent results across restarts. Empty disables it.
	Spool string `mapstructure:"spool" yaml:"spool"`
	// Socket is the local intake for `rc-agent exec`. Empty picks a
	// per-user path; "-" disables the intake.
	Socket         string        `mapstructure:"socket" yaml:"socket"`
	MaxConnections int           `mapstructure:"max_connections" yaml:"max_connections"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
}

// LogConfig defines logger settings.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `mapstructure:"level" yaml:"level"`
	// Format: console or json
	Format string `mapstructure:"format" yaml:"format"`
	// Outputs: stdout, stderr, or file paths
	Outputs     []string       `mapstructure:"outputs" yaml:"outputs"`
	Rotation    RotationConfig `mapstructure:"rotation" yaml:"rotation"`
	Development bool           `mapstructure:"development" yaml:"development"`
}

// RotationConfig controls log file rotation for file outputs.
type RotationConfig struct {
	Enable     bool `mapstructure:"enable" yaml:"enable"`
	MaxSizeMB  int  `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int  `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAgeDays int  `mapstructure:"max_age_days" yaml:"max_age_days"`
	Compress   bool `mapstructure:"compress" yaml:"compress"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Transport:    "udp",
			Address:      "127.0.0.1:3000",
			BaseURL:      "http://127.0.0.1:8080",
			WebSocketURL: "ws://127.0.0.1:8080/control/ws",
			Paths: PathsConfig{
				Register: "/control/client/init",
				Tasks:    "/control/client/task",
				Results:  "/control/client/task/result",
			},
			ReplyTimeout: 2 * time.Second,
		},
		Codec: CodecConfig{
			Compression:     true,
			Quality:         11,
			Window:          22,
			Checksum:        "xmodem",
			MaxDecompressed: 64 * 1024,
		},
		Poll: PollConfig{
			Interval:           10 * time.Second,
			RegisterBackoff:    5 * time.Second,
			RegisterBackoffMax: 60 * time.Second,
			Settle:             200 * time.Millisecond,
			DefaultMinDelay:    0,
			DefaultMaxDelay:    500,
		},
		Tasks: TasksConfig{
			MaxOutputBytes: 256 * 1024,
			Probe: ProbeConfig{
				Hosts:   []string{"127.0.0.1"},
				Ports:   []int{21, 22, 23, 25, 53, 80, 443, 8000, 8080, 8443},
				Workers: 128,
				Timeout: 200 * time.Millisecond,
			},
		},
		Results: ResultsConfig{
			MaxConnections: 50,
			ReadTimeout:    5 * time.Second,
		},
		Log: LogConfig{
			Level:   "info",
			Format:  "console",
			Outputs: []string{"stderr"},
			Rotation: RotationConfig{
				MaxSizeMB:  50,
				MaxBackups: 3,
				MaxAgeDays: 28,
				Compress:   true,
			},
		},
	}
}

// flagKeys maps command-line flag names to configuration keys.
var flagKeys = map[string]string{
	"server":    "server.address",
	"transport": "server.transport",
	"key-file":  "codec.key_file",
	"log-level": "log.level",
	"interval":  "poll.interval",
	"spool":     "results.spool",
	"socket":    "results.socket",
}

// Load reads configuration from path when given, otherwise from the
// RC_AGENT_CONFIG variable or a config.yaml in the search locations. A
// missing file is not an error. Flags from fs that were set on the command
// line override everything else.
func Load(path string, fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	setDefaults(v, Default())

	if fs != nil {
		for name, key := range flagKeys {
			if f := fs.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, errors.Wrapf(err, "binding flag %s", name)
				}
			}
		}
	}

	if path == "" {
		path = os.Getenv(EnvPrefix + "_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/rc-agent")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".rc-agent"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, errors.Wrap(err, "read config")
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("server.transport", d.Server.Transport)
	v.SetDefault("server.address", d.Server.Address)
	v.SetDefault("server.base_url", d.Server.BaseURL)
	v.SetDefault("server.websocket_url", d.Server.WebSocketURL)
	v.SetDefault("server.paths.register", d.Server.Paths.Register)
	v.SetDefault("server.paths.tasks", d.Server.Paths.Tasks)
	v.SetDefault("server.paths.results", d.Server.Paths.Results)
	v.SetDefault("server.reply_timeout", d.Server.ReplyTimeout)
	v.SetDefault("server.local_port_min", d.Server.LocalPortMin)
	v.SetDefault("server.local_port_max", d.Server.LocalPortMax)

	v.SetDefault("codec.compression", d.Codec.Compression)
	v.SetDefault("codec.quality", d.Codec.Quality)
	v.SetDefault("codec.window", d.Codec.Window)
	v.SetDefault("codec.checksum", d.Codec.Checksum)
	v.SetDefault("codec.key", d.Codec.Key)
	v.SetDefault("codec.key_file", d.Codec.KeyFile)
	v.SetDefault("codec.max_decompressed", d.Codec.MaxDecompressed)

	v.SetDefault("poll.interval", d.Poll.Interval)
	v.SetDefault("poll.register_backoff", d.Poll.RegisterBackoff)
	v.SetDefault("poll.register_backoff_max", d.Poll.RegisterBackoffMax)
	v.SetDefault("poll.settle", d.Poll.Settle)
	v.SetDefault("poll.default_min_delay", d.Poll.DefaultMinDelay)
	v.SetDefault("poll.default_max_delay", d.Poll.DefaultMaxDelay)

	v.SetDefault("tasks.shell", d.Tasks.Shell)
	v.SetDefault("tasks.max_output_bytes", d.Tasks.MaxOutputBytes)
	v.SetDefault("tasks.probe.hosts", d.Tasks.Probe.Hosts)
	v.SetDefault("tasks.probe.ports", d.Tasks.Probe.Ports)
	v.SetDefault("tasks.probe.workers", d.Tasks.Probe.Workers)
	v.SetDefault("tasks.probe.timeout", d.Tasks.Probe.Timeout)

	v.SetDefault("results.spool", d.Results.Spool)
	v.SetDefault("results.socket", d.Results.Socket)
	v.SetDefault("results.max_connections", d.Results.MaxConnections)
	v.SetDefault("results.read_timeout", d.Results.ReadTimeout)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.outputs", d.Log.Outputs)
	v.SetDefault("log.development", d.Log.Development)
	v.SetDefault("log.rotation.enable", d.Log.Rotation.Enable)
	v.SetDefault("log.rotation.max_size_mb", d.Log.Rotation.MaxSizeMB)
	v.SetDefault("log.rotation.max_backups", d.Log.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age_days", d.Log.Rotation.MaxAgeDays)
	v.SetDefault("log.rotation.compress", d.Log.Rotation.Compress)
}

func (c *Config) validate() error {
	c.Server.Transport = strings.ToLower(strings.TrimSpace(c.Server.Transport))
	switch c.Server.Transport {
	case "udp", "http", "websocket":
	default:
		return errors.Errorf("invalid server.transport: %q", c.Server.Transport)
	}

	switch strings.ToLower(strings.TrimSpace(c.Log.Level)) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return errors.Errorf("invalid log.level: %q", c.Log.Level)
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if len(c.Log.Outputs) == 0 {
		c.Log.Outputs = []string{"stderr"}
	}

	switch strings.ToLower(c.Codec.Checksum) {
	case "", "xmodem", "gsm":
	default:
		return errors.Errorf("invalid codec.checksum: %q", c.Codec.Checksum)
	}

	if c.Poll.Interval <= 0 {
		return errors.Errorf("poll.interval must be positive, got %s", c.Poll.Interval)
	}
	if c.Poll.RegisterBackoffMax < c.Poll.RegisterBackoff {
		c.Poll.RegisterBackoffMax = c.Poll.RegisterBackoff
	}
	if c.Server.LocalPortMax < c.Server.LocalPortMin {
		return errors.Errorf("server.local_port_max %d below local_port_min %d",
			c.Server.LocalPortMax, c.Server.LocalPortMin)
	}
	return nil
}
