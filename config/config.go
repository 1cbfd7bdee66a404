// Package config loads the proxy settings from YAML and turns them into
// session and adapter configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/obdsim/canproxy"
	"gopkg.in/yaml.v3"
)

const (
	DefaultHost             = "port.obdsim.net"
	DefaultPort             = canproxy.DefaultPort
	DefaultChannel          = "vcan0"
	DefaultInterface        = "socketcan"
	DefaultBaudrate         = 115200
	DefaultRecvTimeout      = canproxy.DefaultRecvTimeout
	DefaultHandshakeTimeout = canproxy.DefaultHandshakeTimeout
	DefaultConnectAttempts  = 1
)

// Duration accepts Go duration strings ("2s", "500ms") or plain integers as seconds.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Tag == "!!int" {
		var secs int64
		if err := value.Decode(&secs); err != nil {
			return err
		}
		*d = Duration(time.Duration(secs) * time.Second)
		return nil
	}
	dur, err := time.ParseDuration(strings.TrimSpace(value.Value))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(dur)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// LogConfig holds optional log file settings. An empty Filename logs to stderr.
type LogConfig struct {
	Level      string `yaml:"level,omitempty"`
	Filename   string `yaml:"filename,omitempty"`
	MaxSize    int    `yaml:"max_size,omitempty"` // megabytes
	MaxBackups int    `yaml:"max_backups,omitempty"`
	MaxAge     int    `yaml:"max_age,omitempty"` // days
	Compress   bool   `yaml:"compress,omitempty"`
}

type Config struct {
	Config           string   `yaml:"config"`
	Host             string   `yaml:"host,omitempty"`
	Port             int      `yaml:"port,omitempty"`
	Interface        string   `yaml:"interface,omitempty"`
	Channel          string   `yaml:"channel,omitempty"`
	Bitrate          float64  `yaml:"bitrate,omitempty"`  // kbit/s
	Baudrate         int      `yaml:"baudrate,omitempty"` // serial adapters
	RecvTimeout      Duration `yaml:"recv_timeout,omitempty"`
	HandshakeTimeout Duration `yaml:"handshake_timeout,omitempty"`
	DialTimeout      Duration `yaml:"dial_timeout,omitempty"`
	ConnectAttempts  uint     `yaml:"connect_attempts,omitempty"`
	TXRate           float64  `yaml:"tx_rate,omitempty"` // frames/s
	Trace            bool     `yaml:"trace,omitempty"`
	Debug            bool     `yaml:"debug,omitempty"`

	Log *LogConfig `yaml:"log,omitempty"`
}

// SetDefaults fills every unset field.
func (c *Config) SetDefaults() {
	if c.Host == "" {
		c.Host = DefaultHost
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.Interface == "" {
		c.Interface = DefaultInterface
	}
	if c.Channel == "" {
		c.Channel = DefaultChannel
	}
	if c.Baudrate == 0 {
		c.Baudrate = DefaultBaudrate
	}
	if c.RecvTimeout == 0 {
		c.RecvTimeout = Duration(DefaultRecvTimeout)
	}
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = Duration(DefaultHandshakeTimeout)
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = Duration(canproxy.DefaultDialTimeout)
	}
	if c.ConnectAttempts == 0 {
		c.ConnectAttempts = DefaultConnectAttempts
	}
	if c.Log == nil {
		c.Log = &LogConfig{}
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Filename != "" {
		if c.Log.MaxSize == 0 {
			c.Log.MaxSize = 20
		}
		if c.Log.MaxBackups == 0 {
			c.Log.MaxBackups = 5
		}
		if c.Log.MaxAge == 0 {
			c.Log.MaxAge = 28
		}
	}
}

func (c *Config) Validate() error {
	var errs []error
	if c.Config == "" {
		errs = append(errs, errors.New("config name is required"))
	}
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid port %d", c.Port))
	}
	if c.Bitrate < 0 {
		errs = append(errs, fmt.Errorf("invalid bitrate %g", c.Bitrate))
	}
	if c.TXRate < 0 {
		errs = append(errs, fmt.Errorf("invalid tx rate %g", c.TXRate))
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Load reads a YAML file. Defaults are not applied so flags can be merged first.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, nil
}

// Session returns the session settings.
func (c *Config) Session() *canproxy.SessionConfig {
	return &canproxy.SessionConfig{
		ConfigName:       c.Config,
		Host:             c.Host,
		Port:             c.Port,
		DialTimeout:      c.DialTimeout.Duration(),
		ConnectAttempts:  c.ConnectAttempts,
		HandshakeTimeout: c.HandshakeTimeout.Duration(),
		TXRate:           c.TXRate,
	}
}

// Adapter returns the bus adapter settings.
func (c *Config) Adapter() *canproxy.AdapterConfig {
	return &canproxy.AdapterConfig{
		Debug:        c.Debug,
		Channel:      c.Channel,
		PortBaudrate: c.Baudrate,
		CANRate:      c.Bitrate,
		RecvTimeout:  c.RecvTimeout.Duration(),
	}
}
