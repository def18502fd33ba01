package config

import (
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type DBConfig struct {
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	SSLMode  string `mapstructure:"sslmode"`
}

type MQTTConfig struct {
	BrokerURL   string `mapstructure:"broker_url"`
	ClientID    string `mapstructure:"client_id"`
	TopicPrefix string `mapstructure:"topic_prefix"`
}

type WeatherConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	Latitude  float64       `mapstructure:"latitude"`
	Longitude float64       `mapstructure:"longitude"`
	PollSpec  string        `mapstructure:"poll_spec"`
	CacheTTL  time.Duration `mapstructure:"cache_ttl"`
}

type SimulatorConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Sensors  int           `mapstructure:"sensors"`
	Interval time.Duration `mapstructure:"interval"`
}

type IngestConfig struct {
	OrphanRetention bool `mapstructure:"orphan_retention"`
}

type AdminConfig struct {
	Email    string `mapstructure:"email"`
	Password string `mapstructure:"password"`
}

type RedisConfig struct {
	Addr  string `mapstructure:"addr"`
	RPS   int    `mapstructure:"rps"`
	Burst int    `mapstructure:"burst"`
}

type Config struct {
	Port         string          `mapstructure:"port"`
	LogLevel     string          `mapstructure:"log_level"`
	JWTSecret    string          `mapstructure:"jwt_secret"`
	OTLPEndpoint string          `mapstructure:"otlp_endpoint"`
	MQTT         MQTTConfig      `mapstructure:"mqtt"`
	Postgres     DBConfig        `mapstructure:"postgres"`
	Weather      WeatherConfig   `mapstructure:"weather"`
	Simulator    SimulatorConfig `mapstructure:"simulator"`
	Ingest       IngestConfig    `mapstructure:"ingest"`
	Admin        AdminConfig     `mapstructure:"admin"`
	Redis        RedisConfig     `mapstructure:"redis"`
}

// Load reads an optional yaml config file and lets environment variables
// override every key (TELEMETRY_MQTT_BROKER_URL, TELEMETRY_POSTGRES_HOST...).
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("TELEMETRY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("port", "8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("mqtt.broker_url", "mqtt://mosquitto:1883")
	v.SetDefault("mqtt.client_id", "telemetry-hub")
	v.SetDefault("mqtt.topic_prefix", "iot")
	v.SetDefault("postgres.port", "5432")
	v.SetDefault("postgres.sslmode", "disable")
	v.SetDefault("weather.latitude", 47.4979)
	v.SetDefault("weather.longitude", 19.0402)
	v.SetDefault("weather.poll_spec", "@every 5m")
	v.SetDefault("weather.cache_ttl", 2*time.Minute)
	v.SetDefault("simulator.enabled", true)
	v.SetDefault("simulator.sensors", 4)
	v.SetDefault("simulator.interval", 10*time.Second)
	v.SetDefault("ingest.orphan_retention", true)
	v.SetDefault("admin.email", "admin@localhost")
	v.SetDefault("redis.rps", 10)
	v.SetDefault("redis.burst", 20)

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	slog.Info("config loaded",
		"port", cfg.Port,
		"mqtt", cfg.MQTT.BrokerURL,
		"topic_prefix", cfg.MQTT.TopicPrefix,
		"simulator", cfg.Simulator.Enabled,
	)
	return &cfg, nil
}
