package config

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/ryandielhenn/pingparty/pkg/gossip"
)

// EnvPrefix is prepended to every environment override, e.g.
// PINGPARTY_NODE_FREQUENCY.
const EnvPrefix = "PINGPARTY"

var ErrInvalidConfig = errors.New("invalid configuration")

// Config represents the node configuration
type Config struct {
	Node      NodeConfig      `mapstructure:"node"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Admin     AdminConfig     `mapstructure:"admin"`
	Discovery DiscoveryConfig `mapstructure:"discovery"`
}

// NodeConfig contains the socket and announce settings. Times are in
// seconds, as on the wire.
type NodeConfig struct {
	BindAddress      string  `mapstructure:"bind_address" validate:"required,ip"`
	BroadcastAddress string  `mapstructure:"broadcast_address" validate:"required,ip"`
	BroadcastPort    int     `mapstructure:"broadcast_port" validate:"required,min=1,max=65535"`
	Frequency        float64 `mapstructure:"frequency" validate:"gt=0,lt=9223372036"`
	JitterMin        float64 `mapstructure:"jitter_min" validate:"gte=0"`
	JitterMax        float64 `mapstructure:"jitter_max" validate:"gtefield=JitterMin,ltfield=Frequency"`
	HonorStop        bool    `mapstructure:"honor_stop"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format     string `mapstructure:"format" validate:"oneof=console json"`
	ConfigFile string `mapstructure:"config_file"`
}

// AdminConfig contains the optional status/metrics HTTP listener.
type AdminConfig struct {
	Addr        string `mapstructure:"addr" validate:"omitempty,hostname_port"`
	MetricsPath string `mapstructure:"metrics_path" validate:"startswith=/"`
}

// DiscoveryConfig contains the optional etcd mirror.
type DiscoveryConfig struct {
	Endpoints   []string      `mapstructure:"endpoints" validate:"dive,required"`
	Prefix      string        `mapstructure:"prefix" validate:"startswith=/"`
	DialTimeout time.Duration `mapstructure:"dial_timeout" validate:"gt=0"`
}

// Bind returns the local socket address.
func (n NodeConfig) Bind() netip.AddrPort {
	return netip.AddrPortFrom(netip.MustParseAddr(n.BindAddress), uint16(n.BroadcastPort))
}

// Broadcast returns the announce destination.
func (n NodeConfig) Broadcast() netip.AddrPort {
	return netip.AddrPortFrom(netip.MustParseAddr(n.BroadcastAddress), uint16(n.BroadcastPort))
}

func (n NodeConfig) FrequencyDuration() time.Duration { return gossip.Seconds(n.Frequency) }
func (n NodeConfig) JitterMinDuration() time.Duration { return gossip.Seconds(n.JitterMin) }
func (n NodeConfig) JitterMaxDuration() time.Duration { return gossip.Seconds(n.JitterMax) }

// Loader reads configuration from, lowest to highest precedence:
// defaults, a yaml file, an env file, the environment, and flags.
type Loader struct {
	v *viper.Viper
}

func NewLoader() *Loader {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return &Loader{v: v}
}

// flagKeys maps command line flags to config keys. The first six keep the
// names existing ping-party deployments already pass.
var flagKeys = map[string]string{
	"ip-address":        "node.bind_address",
	"broadcast-address": "node.broadcast_address",
	"broadcast-port":    "node.broadcast_port",
	"frequency":         "node.frequency",
	"jitter-min":        "node.jitter_min",
	"jitter-max":        "node.jitter_max",
	"honor-stop":        "node.honor_stop",
	"log-level":         "logging.level",
	"log-format":        "logging.format",
	"logging-config":    "logging.config_file",
	"admin-addr":        "admin.addr",
	"etcd-endpoints":    "discovery.endpoints",
}

// RegisterFlags adds the node flags to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("ip-address", "", "The IP address of the interface to bind to")
	fs.String("broadcast-address", "", "The IP address of the broadcast address for the subnet")
	fs.Int("broadcast-port", 0, "The port used for broadcasting")
	fs.Float64("frequency", 60, "Minimum frequency of broadcasts in seconds")
	fs.Float64("jitter-min", 5, "Minimum number of seconds to subtract from the frequency")
	fs.Float64("jitter-max", 10, "Maximum number of seconds to subtract from the frequency")
	fs.Bool("honor-stop", true, "Shut down when a STOP! message is received")
	fs.String("log-level", "info", "Log level (debug, info, warn, error)")
	fs.String("log-format", "console", "Log format (console, json)")
	fs.String("logging-config", "", "zap logging config file (yaml or json)")
	fs.String("admin-addr", "", "Listen address for /healthz, /peers and metrics (disabled if empty)")
	fs.StringSlice("etcd-endpoints", nil, "etcd endpoints to mirror live peers into (disabled if empty)")
}

// BindFlags makes explicitly set flags override every other source.
func (l *Loader) BindFlags(fs *pflag.FlagSet) error {
	for name, key := range flagKeys {
		f := fs.Lookup(name)
		if f == nil {
			continue
		}
		if err := l.v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	return nil
}

// Load reads the optional config and env files and returns a validated
// Config.
func (l *Loader) Load(configPath, envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("failed to load env file: %w", err)
		}
	}

	if configPath != "" {
		l.v.SetConfigFile(configPath)
		if err := l.v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Node defaults
	v.SetDefault("node.bind_address", "")
	v.SetDefault("node.broadcast_address", "")
	v.SetDefault("node.broadcast_port", 0)
	v.SetDefault("node.frequency", 60.0)
	v.SetDefault("node.jitter_min", 5.0)
	v.SetDefault("node.jitter_max", 10.0)
	v.SetDefault("node.honor_stop", true)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.config_file", "")

	// Admin defaults
	v.SetDefault("admin.addr", "")
	v.SetDefault("admin.metrics_path", "/metrics")

	// Discovery defaults
	v.SetDefault("discovery.endpoints", []string{})
	v.SetDefault("discovery.prefix", "/pingparty")
	v.SetDefault("discovery.dial_timeout", 5*time.Second)
}

var validate = validator.New()

// Validate checks field rules and wraps every violation in
// ErrInvalidConfig.
func Validate(cfg *Config) error {
	err := validate.Struct(cfg)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, describe(fe))
	}
	return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
}

func describe(fe validator.FieldError) string {
	field := fe.Namespace()
	if i := strings.Index(field, "."); i >= 0 {
		field = field[i+1:]
	}
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "ip":
		return fmt.Sprintf("%s %q is not an IP address", field, fe.Value())
	case "ltfield":
		return fmt.Sprintf("%s must be less than %s", field, fe.Param())
	case "gtefield":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	default:
		if fe.Param() != "" {
			return fmt.Sprintf("%s fails %s=%s", field, fe.Tag(), fe.Param())
		}
		return fmt.Sprintf("%s fails %s", field, fe.Tag())
	}
}
