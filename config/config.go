package config

import (
	"errors"
	"fmt"
	"io/fs"
	log "log/slog"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig            `yaml:"server"`
	Log       LogConfig               `yaml:"log"`
	Auth      AuthConfig              `yaml:"auth"`
	HomeGraph HomeGraphConfig         `yaml:"homegraph"`
	Mqtt      MqttConfig              `yaml:"mqtt"`
	Store     StoreConfig             `yaml:"store"`
	History   HistoryConfig           `yaml:"history"`
	Report    ReportConfig            `yaml:"report"`
	Execute   ExecuteConfig           `yaml:"execute"`
	Devices   map[string]DeviceConfig `yaml:"devices"`
}

type ServerConfig struct {
	Port int    `yaml:"port" env:"SERVER_PORT" env-default:"8080"`
	Host string `yaml:"host" env:"HOST" env-default:"localhost"`
}

type LogConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
	Format string `yaml:"format" env:"LOG_FORMAT" env-default:"text"`
	Source bool   `yaml:"source" env:"LOG_SOURCE" env-default:"false"`
}

type AuthConfig struct {
	Client         ClientConfig  `yaml:"client"`
	Credentials    string        `yaml:"credentials" env:"CREDENTIALS" env-default:".credentials"`
	TokenStore     string        `yaml:"tokenStore" env:"TOKEN_STORE" env-default:".tokenstore"`
	JwtKey         string        `yaml:"jwtKey" env:"JWT_KEY" env-default:"00000000"`
	TokenExpiry    time.Duration `yaml:"tokenExpiry" env:"TOKEN_EXPIRY" env-default:"24h"`
	SkipValidation bool          `yaml:"skipValidation" env:"SKIP_TOKEN_VALIDATION" env-default:"false"`
}

type ClientConfig struct {
	Id     string `yaml:"id" env:"CLIENT_ID" env-default:"000000"`
	Secret string `yaml:"secret" env:"CLIENT_SECRET" env-default:"999999"`
	Domain string `yaml:"domain" env:"CLIENT_DOMAIN" env-default:"https://oauth-redirect.googleusercontent.com/r/project/project-id"`
}

type HomeGraphConfig struct {
	CredentialsFile string `yaml:"credentialsFile" env:"GOOGLE_APPLICATION_CREDENTIALS"`
	AgentUserID     string `yaml:"agentUserId" env:"AGENT_USER_ID" env-default:"123"`
	Endpoint        string `yaml:"endpoint" env:"HOMEGRAPH_ENDPOINT"`
}

type MqttConfig struct {
	Enabled     bool   `yaml:"enabled" env:"MQTT_ENABLED" env-default:"false"`
	Host        string `yaml:"host" env:"MQTT_BROKER_HOST" env-default:"localhost"`
	Port        int    `yaml:"port" env:"MQTT_BROKER_PORT" env-default:"1883"`
	Username    string `yaml:"username" env:"MQTT_BROKER_USERNAME"`
	Password    string `yaml:"password" env:"MQTT_BROKER_PASSWORD"`
	Tls         bool   `yaml:"tls" env:"MQTT_BROKER_TLS" env-default:"false"`
	ClientId    string `yaml:"clientId" env:"MQTT_CLIENT_ID" env-default:"ghome-bridge"`
	TopicPrefix string `yaml:"topicPrefix" env:"MQTT_TOPIC_PREFIX" env-default:"ghome/device"`
}

type StoreConfig struct {
	// Driver is one of memory, buntdb, redis, sqlite or postgres.
	Driver string      `yaml:"driver" env:"STORE_DRIVER" env-default:"memory"`
	Path   string      `yaml:"path" env:"STORE_PATH" env-default:".statestore"`
	DSN    string      `yaml:"dsn" env:"STORE_DSN"`
	Redis  RedisConfig `yaml:"redis"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr" env:"REDIS_ADDR" env-default:"localhost:6379"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
}

type HistoryConfig struct {
	Enabled     bool   `yaml:"enabled" env:"HISTORY_ENABLED" env-default:"false"`
	URL         string `yaml:"url" env:"INFLUXDB_URL" env-default:"http://localhost:8086"`
	Token       string `yaml:"token" env:"INFLUXDB_TOKEN"`
	Org         string `yaml:"org" env:"INFLUXDB_ORG" env-default:"home"`
	Bucket      string `yaml:"bucket" env:"INFLUXDB_BUCKET" env-default:"ghome"`
	Measurement string `yaml:"measurement" env:"INFLUXDB_MEASUREMENT" env-default:"device_state"`
}

type ReportConfig struct {
	Workers  int           `yaml:"workers" env:"REPORT_WORKERS" env-default:"2"`
	Timeout  time.Duration `yaml:"timeout" env:"REPORT_TIMEOUT" env-default:"10s"`
	Schedule string        `yaml:"schedule" env:"REPORT_SCHEDULE"`
}

type ExecuteConfig struct {
	Concurrency int `yaml:"concurrency" env:"EXECUTE_CONCURRENCY" env-default:"8"`
}

type DeviceConfig struct {
	Name            string                    `yaml:"name"`
	Type            string                    `yaml:"type"`
	Traits          []string                  `yaml:"traits"`
	DefaultNames    []string                  `yaml:"defaultNames"`
	Nicknames       []string                  `yaml:"nicknames"`
	RoomHint        string                    `yaml:"roomHint"`
	WillReportState bool                      `yaml:"willReportState"`
	DeviceInfo      DeviceInfoConfig          `yaml:"deviceInfo"`
	Attributes      map[string]any            `yaml:"attributes"`
	State           map[string]map[string]any `yaml:"state"`
}

type DeviceInfoConfig struct {
	Manufacturer string `yaml:"manufacturer"`
	Model        string `yaml:"model"`
	HwVersion    string `yaml:"hwVersion"`
	SwVersion    string `yaml:"swVersion"`
}

func ReadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %v", err)
	}

	filename := getenv("CONFIG_FILE", "config.yaml")
	var cfg Config
	err := cleanenv.ReadConfig(filename, &cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %v", filename, err)
	}

	log.Info("read config", "file", filename, "devices", len(cfg.Devices), "store", cfg.Store.Driver)
	return &cfg, nil
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if len(value) == 0 {
		return fallback
	}
	return value
}
