package hearthd

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config is the top-level configuration for hearthd.
type Config struct {
	Server  ServerConfig  `toml:"server"`
	Engine  EngineConfig  `toml:"engine"`
	Sources SourcesConfig `toml:"sources"`
	Modules ModulesConfig `toml:"modules"`
}

// ServerConfig defines shared server settings.
type ServerConfig struct {
	Broker    string     `toml:"broker"`
	Identity  string     `toml:"identity"`
	TopicBase string     `toml:"topic_base"`
	LogLevel  string     `toml:"log_level"`
	LogFormat string     `toml:"log_format"`
	LogOutput string     `toml:"log_output"`
	TLS       TLSConfig  `toml:"tls"`
	Auth      AuthConfig `toml:"auth"`
}

// TLSConfig holds TLS paths for MQTT.
type TLSConfig struct {
	CA   string `toml:"ca"`
	Cert string `toml:"cert"`
	Key  string `toml:"key"`
}

// AuthConfig holds MQTT auth credentials.
type AuthConfig struct {
	User string `toml:"user"`
	Pass string `toml:"pass"`
}

// EngineConfig tunes the arbitration engine.
type EngineConfig struct {
	SettleDelayMS         int64 `toml:"settle_delay_ms"`
	VolumeStep            int   `toml:"volume_step"`
	PairingTimeoutSeconds int   `toml:"pairing_timeout_s"`
	PowerOnStart          bool  `toml:"power_on_start"`
}

// SourcesConfig holds backend configurations.
type SourcesConfig struct {
	MPD       MPDConfig       `toml:"mpd"`
	Librespot LibrespotConfig `toml:"librespot"`
	Bluetooth BluetoothConfig `toml:"bluetooth"`
}

// MPDConfig configures the MPD backend.
type MPDConfig struct {
	Enabled        bool   `toml:"enabled"`
	Address        string `toml:"address"`
	Password       string `toml:"password"`
	PollIntervalMS int64  `toml:"poll_interval_ms"`
}

// LibrespotConfig configures the librespot backend.
type LibrespotConfig struct {
	Enabled   bool   `toml:"enabled"`
	BaseURL   string `toml:"base_url"`
	TimeoutMS int64  `toml:"timeout_ms"`
}

// BluetoothConfig configures the Bluetooth backend.
type BluetoothConfig struct {
	Enabled bool   `toml:"enabled"`
	Adapter string `toml:"adapter"`
}

// ModulesConfig holds module configurations.
type ModulesConfig struct {
	MQTTAPI      MQTTAPIConfig      `toml:"mqtt_api"`
	EmbeddedMQTT EmbeddedMQTTConfig `toml:"embedded_mqtt"`
}

// MQTTAPIConfig configures the MQTT control surface.
type MQTTAPIConfig struct {
	Enabled bool `toml:"enabled"`
	Debug   bool `toml:"debug"`
}

// EmbeddedMQTTConfig configures the embedded MQTT broker.
type EmbeddedMQTTConfig struct {
	Enabled        bool   `toml:"enabled"`
	Listen         string `toml:"listen"`
	AllowAnonymous bool   `toml:"allow_anonymous"`
	Username       string `toml:"username"`
	Password       string `toml:"password"`
	TLSCA          string `toml:"tls_ca"`
	TLSCert        string `toml:"tls_cert"`
	TLSKey         string `toml:"tls_key"`
}

// LoadConfig loads a config file from path.
func LoadConfig(path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("config path required")
	}
	info, err := os.Stat(path)
	if err != nil {
		return Config{}, err
	}
	if info.IsDir() {
		return Config{}, errors.New("config path is a directory")
	}

	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// DefaultConfigPath returns the default config location.
func DefaultConfigPath() (string, error) {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "hearth", "hearthd.toml"), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "hearth", "hearthd.toml"), nil
}
