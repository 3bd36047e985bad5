package judgewire

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config is the judged configuration.
type Config struct {
	ListenAddr    string `mapstructure:"listen_addr" yaml:"listen_addr"`
	TLS           bool   `mapstructure:"tls" yaml:"tls"`
	TLSCommonName string `mapstructure:"tls_common_name" yaml:"tls_common_name"`
	CertPEMPath   string `mapstructure:"cert_pem_path" yaml:"cert_pem_path,omitempty"`
	StatsAddr     string `mapstructure:"stats_addr" yaml:"stats_addr"`

	StatsAllowedOrigins []string `mapstructure:"stats_allowed_origins" yaml:"stats_allowed_origins,omitempty"`

	// Password and PostgresDSN are alternatives; the database wins if both
	// are set.
	Password       string `mapstructure:"password" yaml:"password,omitempty"`
	PostgresDSN    string `mapstructure:"postgres_dsn" yaml:"postgres_dsn,omitempty"`
	CredentialName string `mapstructure:"credential_name" yaml:"credential_name"`

	TokenAPIURL string `mapstructure:"token_api_url" yaml:"token_api_url,omitempty"`

	// ExecutorCommand is the sandbox program jobs are handed to.
	ExecutorCommand string   `mapstructure:"executor_command" yaml:"executor_command"`
	ExecutorArgs    []string `mapstructure:"executor_args" yaml:"executor_args,omitempty"`
	Languages       []string `mapstructure:"languages" yaml:"languages,omitempty"`

	MaxPacketSize    uint32        `mapstructure:"max_packet_size" yaml:"max_packet_size"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout" yaml:"handshake_timeout"`
	IdleTimeout      time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
	OutboundQueue    int           `mapstructure:"outbound_queue" yaml:"outbound_queue"`

	LogLevel string `mapstructure:"log_level" yaml:"log_level"`
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() *Config {
	return &Config{
		ListenAddr:       DefaultListenAddr,
		TLSCommonName:    "judged",
		StatsAddr:        DefaultStatsAddr,
		CredentialName:   DefaultCredentialName,
		MaxPacketSize:    DefaultMaxPacketSize,
		HandshakeTimeout: DefaultHandshakeTimeout,
		IdleTimeout:      DefaultIdleTimeout,
		OutboundQueue:    DefaultOutboundQueue,
		LogLevel:         DefaultLogLevel,
	}
}

// LoadConfig reads a YAML file on top of the defaults. Every key can be
// overridden by a JUDGED_ environment variable, e.g. JUDGED_PASSWORD. An empty
// path uses defaults and environment only.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("JUDGED")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	def := DefaultConfig()
	v.SetDefault("listen_addr", def.ListenAddr)
	v.SetDefault("tls", def.TLS)
	v.SetDefault("tls_common_name", def.TLSCommonName)
	v.SetDefault("cert_pem_path", def.CertPEMPath)
	v.SetDefault("stats_addr", def.StatsAddr)
	v.SetDefault("stats_allowed_origins", def.StatsAllowedOrigins)
	v.SetDefault("password", def.Password)
	v.SetDefault("postgres_dsn", def.PostgresDSN)
	v.SetDefault("credential_name", def.CredentialName)
	v.SetDefault("token_api_url", def.TokenAPIURL)
	v.SetDefault("executor_command", def.ExecutorCommand)
	v.SetDefault("executor_args", def.ExecutorArgs)
	v.SetDefault("languages", def.Languages)
	v.SetDefault("max_packet_size", def.MaxPacketSize)
	v.SetDefault("handshake_timeout", def.HandshakeTimeout)
	v.SetDefault("idle_timeout", def.IdleTimeout)
	v.SetDefault("outbound_queue", def.OutboundQueue)
	v.SetDefault("log_level", def.LogLevel)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks that the configuration can start a worker.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return errors.New("listen_addr is required")
	}
	if c.Password == "" && c.PostgresDSN == "" {
		return errors.New("one of password or postgres_dsn is required")
	}
	if c.ExecutorCommand == "" {
		return errors.New("executor_command is required")
	}
	if _, err := c.LanguageIDs(); err != nil {
		return err
	}
	if c.HandshakeTimeout <= 0 || c.IdleTimeout <= 0 {
		return errors.New("timeouts must be positive")
	}
	if c.MaxPacketSize == 0 {
		return errors.New("max_packet_size must be positive")
	}
	return nil
}

// LanguageIDs parses Languages.
func (c *Config) LanguageIDs() ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(c.Languages))
	for _, l := range c.Languages {
		id, err := uuid.Parse(l)
		if err != nil {
			return nil, fmt.Errorf("invalid language id %q: %w", l, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// YAML renders the configuration with secrets masked.
func (c *Config) YAML() ([]byte, error) {
	masked := *c
	if masked.Password != "" {
		masked.Password = "********"
	}
	if masked.PostgresDSN != "" {
		masked.PostgresDSN = "********"
	}
	return yaml.Marshal(&masked)
}
