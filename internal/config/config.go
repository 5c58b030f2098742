package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ICEServer is a STUN or TURN server handed to every peer connection.
type ICEServer struct {
	URLs       []string `mapstructure:"urls"`
	Username   string   `mapstructure:"username"`
	Credential string   `mapstructure:"credential"`
}

type JoinLimit struct {
	Count    int           `mapstructure:"count"`
	Interval time.Duration `mapstructure:"interval"`
}

type Broker struct {
	Realm           string        `mapstructure:"realm"`
	ResponseTimeout time.Duration `mapstructure:"response_timeout"`
}

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	StaticPath string        `mapstructure:"static_path"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	PongWait   time.Duration `mapstructure:"pong_wait"`
	SendBuffer int           `mapstructure:"send_buffer"`
	Secret     string        `mapstructure:"secret"`
	LogLevel   string        `mapstructure:"log_level"`
	Broker     Broker        `mapstructure:"broker"`
	JoinLimit  JoinLimit     `mapstructure:"join_limit"`
	ICEServers []ICEServer   `mapstructure:"ice_servers"`
}

// Peer is the configuration of a mesh participant.
type Peer struct {
	SignalURL       string        `mapstructure:"signal_url"`
	BrokerURL       string        `mapstructure:"broker_url"`
	Realm           string        `mapstructure:"realm"`
	ResponseTimeout time.Duration `mapstructure:"response_timeout"`
	ICEServers      []ICEServer   `mapstructure:"ice_servers"`
	LogLevel        string        `mapstructure:"log_level"`
}

const (
	DefaultRealm = "mesh"
	DefaultSTUN  = "stun:stun.l.google.com:19302"
	EnvPrefix    = "VOICE"
)

func SetDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("pong_wait", "60s")
	v.SetDefault("send_buffer", 32)
	v.SetDefault("secret", "voice-dev-secret")
	v.SetDefault("log_level", "info")
	v.SetDefault("broker.realm", DefaultRealm)
	v.SetDefault("broker.response_timeout", "10s")
	v.SetDefault("join_limit.count", 5)
	v.SetDefault("join_limit.interval", "10s")
	v.SetDefault("ice_servers", []map[string]any{{"urls": []string{DefaultSTUN}}})
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("⚠️ Config file not found (%s), using defaults\n", fileName)
	} else {
		fmt.Printf("✅ Loaded config: %s\n", fileName)
	}
	return Parse(v)
}

// Parse decodes and checks a populated viper instance.
func Parse(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.PingPeriod >= cfg.PongWait {
		return nil, fmt.Errorf("ping_period (%s) must be shorter than pong_wait (%s)", cfg.PingPeriod, cfg.PongWait)
	}
	if cfg.SendBuffer <= 0 {
		return nil, fmt.Errorf("send_buffer must be positive, got %d", cfg.SendBuffer)
	}
	fmt.Printf("🧩 Mode: %s | Port: %d | Realm: %s\n", cfg.Mode, cfg.Port, cfg.Broker.Realm)
	return &cfg, nil
}

func SetPeerDefaults(v *viper.Viper) {
	v.SetDefault("signal_url", "ws://localhost:8080/api/ws/signal")
	v.SetDefault("broker_url", "ws://localhost:8080/api/ws/broker")
	v.SetDefault("realm", DefaultRealm)
	v.SetDefault("response_timeout", "10s")
	v.SetDefault("log_level", "info")
	v.SetDefault("ice_servers", []map[string]any{{"urls": []string{DefaultSTUN}}})
}

// LoadPeer decodes the participant configuration from v, which the CLI has
// already bound to its flags and environment.
func LoadPeer(v *viper.Viper) (*Peer, error) {
	var cfg Peer
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse peer config: %w", err)
	}
	if cfg.SignalURL == "" {
		return nil, fmt.Errorf("signal_url is required")
	}
	if cfg.BrokerURL == "" {
		return nil, fmt.Errorf("broker_url is required")
	}
	return &cfg, nil
}
