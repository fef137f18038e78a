// Package config loads the tester settings from an optional ini file and
// TCPTESTER_* environment variables, on top of defaults that reproduce the
// reference run: one drain-mode session from label 9999 to 127.0.0.1:7878.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/ini.v1"

	"github.com/cyberinferno/tcptester/driver"
	"github.com/cyberinferno/tcptester/logger"
	"github.com/cyberinferno/tcptester/testclient"
)

// EnvConfigFile names the variable holding the ini file path.
const EnvConfigFile = "TCPTESTER_CONFIG"

// ClientConf configures the sessions.
type ClientConf struct {
	Host           string        `ini:"host"`
	Port           int           `ini:"port"`
	Policy         string        `ini:"policy"`
	MaxBytes       int           `ini:"max_bytes"`
	ConnectTimeout time.Duration `ini:"connect_timeout"`
	LocalHost      string        `ini:"local_host"`
	LocalPorts     []int         `ini:"local_ports" delim:","`
	BindLocal      bool          `ini:"bind_local"`
	Failure        string        `ini:"failure"`
	ResolveTTL     time.Duration `ini:"resolve_ttl"`
}

// ServerConf configures the stub server.
type ServerConf struct {
	Addr      string `ini:"addr"`
	Reply     string `ini:"reply"`
	ReadLimit int    `ini:"read_limit"`
}

// LogConf configures logging.
type LogConf struct {
	Level string `ini:"level"`
	Dir   string `ini:"dir"`
	JSON  bool   `ini:"json"`
}

// RedisConf configures the optional Redis result sink. An empty Addr
// disables it.
type RedisConf struct {
	Addr     string        `ini:"addr"`
	Password string        `ini:"password"`
	DB       int           `ini:"db"`
	Key      string        `ini:"key"`
	TTL      time.Duration `ini:"ttl"`
}

// Config is the complete tester configuration.
type Config struct {
	Client ClientConf `ini:"client"`
	Server ServerConf `ini:"server"`
	Log    LogConf    `ini:"log"`
	Redis  RedisConf  `ini:"redis"`
}

// Default returns the reference settings.
func Default() Config {
	return Config{
		Client: ClientConf{
			Host:       "127.0.0.1",
			Port:       7878,
			Policy:     testclient.Drain.String(),
			MaxBytes:   testclient.DefaultMaxBytes,
			LocalHost:  "127.0.0.1",
			LocalPorts: []int{9999},
			Failure:    driver.FailFast.String(),
			ResolveTTL: time.Minute,
		},
		Server: ServerConf{
			Addr:      "127.0.0.1:7878",
			Reply:     "ACK",
			ReadLimit: len(testclient.DefaultPayload),
		},
		Log: LogConf{
			Level: "info",
		},
		Redis: RedisConf{
			Key: "tcptester:results",
			TTL: 24 * time.Hour,
		},
	}
}

// Load builds a Config from defaults, the ini file at path (skipped when
// path is empty) and the environment, then validates it.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadIni(&cfg, path); err != nil {
			return cfg, err
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}

	return cfg, cfg.Validate()
}

// LoadFromEnv is Load with the path taken from TCPTESTER_CONFIG.
func LoadFromEnv() (Config, error) {
	return Load(os.Getenv(EnvConfigFile))
}

// loadIni maps source (a file path or raw []byte) onto cfg.
func loadIni(cfg *Config, source any) error {
	f, err := ini.Load(source)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := f.MapTo(cfg); err != nil {
		return fmt.Errorf("failed to map config: %w", err)
	}

	return nil
}

// Validate checks the values that cannot be caught later by the packages
// consuming them.
func (c Config) Validate() error {
	if _, err := testclient.ParseReadPolicy(c.Client.Policy); err != nil {
		return err
	}

	if _, err := driver.ParseFailurePolicy(c.Client.Failure); err != nil {
		return err
	}

	if c.Client.Port < 1 || c.Client.Port > 65535 {
		return fmt.Errorf("client port %d out of range", c.Client.Port)
	}

	if c.Client.MaxBytes < 0 {
		return fmt.Errorf("client max_bytes %d is negative", c.Client.MaxBytes)
	}

	if c.Client.ConnectTimeout < 0 {
		return fmt.Errorf("client connect_timeout %s is negative", c.Client.ConnectTimeout)
	}

	if len(c.Client.LocalPorts) == 0 {
		return fmt.Errorf("client local_ports is empty")
	}

	for _, p := range c.Client.LocalPorts {
		if p < 0 || p > 65535 {
			return fmt.Errorf("client local port %d out of range", p)
		}
	}

	return nil
}

// Driver converts the client section to a driver.Config.
func (c Config) Driver() (driver.Config, error) {
	policy, err := testclient.ParseReadPolicy(c.Client.Policy)
	if err != nil {
		return driver.Config{}, err
	}

	failure, err := driver.ParseFailurePolicy(c.Client.Failure)
	if err != nil {
		return driver.Config{}, err
	}

	return driver.Config{
		Host:           c.Client.Host,
		Port:           c.Client.Port,
		Labels:         append([]int(nil), c.Client.LocalPorts...),
		BindLabels:     c.Client.BindLocal,
		LocalHost:      c.Client.LocalHost,
		Policy:         policy,
		MaxBytes:       c.Client.MaxBytes,
		ConnectTimeout: c.Client.ConnectTimeout,
		Failure:        failure,
	}, nil
}

// Logger returns logger options for service.
func (c Config) Logger(service string) logger.Options {
	return logger.Options{
		Service: service,
		Level:   c.Log.Level,
		Dir:     c.Log.Dir,
		JSON:    c.Log.JSON,
	}
}

func applyEnv(c *Config) error {
	overrideString(&c.Client.Host, "TCPTESTER_HOST")
	overrideString(&c.Client.Policy, "TCPTESTER_POLICY")
	overrideString(&c.Client.Failure, "TCPTESTER_FAILURE")
	overrideString(&c.Client.LocalHost, "TCPTESTER_LOCAL_HOST")
	overrideString(&c.Server.Addr, "TCPTESTER_SERVER_ADDR")
	overrideString(&c.Server.Reply, "TCPTESTER_REPLY")
	overrideString(&c.Log.Level, "TCPTESTER_LOG_LEVEL")
	overrideString(&c.Log.Dir, "TCPTESTER_LOG_DIR")
	overrideString(&c.Redis.Addr, "TCPTESTER_REDIS_ADDR")

	if err := overrideInt(&c.Client.Port, "TCPTESTER_PORT"); err != nil {
		return err
	}

	if err := overrideInt(&c.Client.MaxBytes, "TCPTESTER_MAX_BYTES"); err != nil {
		return err
	}

	if err := overrideBool(&c.Client.BindLocal, "TCPTESTER_BIND_LOCAL"); err != nil {
		return err
	}

	if v := os.Getenv("TCPTESTER_LOCAL_PORTS"); v != "" {
		ports, err := parsePorts(v)
		if err != nil {
			return fmt.Errorf("TCPTESTER_LOCAL_PORTS: %w", err)
		}
		c.Client.LocalPorts = ports
	}

	return nil
}

// parsePorts accepts "9000,9001" and ranges like "9000-9009".
func parsePorts(s string) ([]int, error) {
	var ports []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		lo, hi, isRange := strings.Cut(part, "-")
		start, err := strconv.Atoi(strings.TrimSpace(lo))
		if err != nil {
			return nil, fmt.Errorf("bad port %q", part)
		}

		end := start
		if isRange {
			if end, err = strconv.Atoi(strings.TrimSpace(hi)); err != nil || end < start {
				return nil, fmt.Errorf("bad port range %q", part)
			}
		}

		for p := start; p <= end; p++ {
			ports = append(ports, p)
		}
	}

	if len(ports) == 0 {
		return nil, fmt.Errorf("no ports in %q", s)
	}

	return ports, nil
}

func overrideString(target *string, envName string) {
	if v := os.Getenv(envName); v != "" {
		*target = v
	}
}

func overrideInt(target *int, envName string) error {
	v := os.Getenv(envName)
	if v == "" {
		return nil
	}

	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", envName, err)
	}

	*target = n
	return nil
}

func overrideBool(target *bool, envName string) error {
	v := os.Getenv(envName)
	if v == "" {
		return nil
	}

	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%s: %w", envName, err)
	}

	*target = b
	return nil
}
