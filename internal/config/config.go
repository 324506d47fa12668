package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// The edge runs next to the foreground app (on-device or as a sidecar pod).
// Everything is read from environment variables; defaults target local development
// against LocalStack and the ERP mock in tools/erp-mock.

type Config struct {
	ServerPort string `mapstructure:"SERVER_PORT"`
	IsLocalDev bool   `mapstructure:"IS_LOCAL_DEV"`

	ERPURL       string        `mapstructure:"ERP_URL"`
	ERPAPIKey    string        `mapstructure:"ERP_API_KEY"`
	ERPAPISecret string        `mapstructure:"ERP_API_SECRET"`
	ERPTimeout   time.Duration `mapstructure:"ERP_TIMEOUT"`

	AppOrigin string `mapstructure:"APP_ORIGIN"`
	AppHosts  string `mapstructure:"APP_HOSTS"`

	QueueDriver string `mapstructure:"QUEUE_DRIVER"`
	DataDir     string `mapstructure:"DATA_DIR"`
	DBHost      string `mapstructure:"DB_HOST"`
	DBPort      string `mapstructure:"DB_PORT"`
	DBUser      string `mapstructure:"DB_USER"`
	DBPassword  string `mapstructure:"DB_PASSWORD"`
	DBName      string `mapstructure:"DB_NAME"`

	StaticCache  string `mapstructure:"STATIC_CACHE"`
	RuntimeCache string `mapstructure:"RUNTIME_CACHE"`
	ShellURLs    string `mapstructure:"SHELL_URLS"`

	SyncTag            string        `mapstructure:"SYNC_TAG"`
	SyncSchedule       string        `mapstructure:"SYNC_SCHEDULE"`
	SyncAttemptTimeout time.Duration `mapstructure:"SYNC_ATTEMPT_TIMEOUT"`
	SyncMaxAttempts    int           `mapstructure:"SYNC_MAX_ATTEMPTS"`

	AWSRegion         string `mapstructure:"AWS_REGION"`
	AWSEndpoint       string `mapstructure:"AWS_ENDPOINT"`
	EventsSQSQueueURL string `mapstructure:"EVENTS_SQS_QUEUE_URL"`

	NotifyEmailFrom string `mapstructure:"NOTIFY_EMAIL_FROM"`
	NotifyEmailTo   string `mapstructure:"NOTIFY_EMAIL_TO"`

	MapboxToken string `mapstructure:"MAPBOX_TOKEN"`

	OTelExporter string `mapstructure:"OTEL_EXPORTER"`
	OTelEndpoint string `mapstructure:"OTEL_ENDPOINT"`
}

// LoadConfig reads configuration from environment variables.
func LoadConfig() (config Config, err error) {
	v := viper.New()
	setDefaults(v)

	// Read in environment variables that match the keys.
	v.AutomaticEnv()

	err = v.Unmarshal(&config)
	return
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("SERVER_PORT", "8080")
	v.SetDefault("IS_LOCAL_DEV", false)

	v.SetDefault("ERP_URL", "http://localhost:8081")
	v.SetDefault("ERP_API_KEY", "")
	v.SetDefault("ERP_API_SECRET", "")
	v.SetDefault("ERP_TIMEOUT", 15*time.Second)

	v.SetDefault("APP_ORIGIN", "http://localhost:3000")
	v.SetDefault("APP_HOSTS", "localhost")

	v.SetDefault("QUEUE_DRIVER", "sqlite")
	v.SetDefault("DATA_DIR", "./data")
	v.SetDefault("DB_HOST", "db")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_USER", "user")
	v.SetDefault("DB_PASSWORD", "password")
	v.SetDefault("DB_NAME", "attendance_edge")

	v.SetDefault("STATIC_CACHE", "attendance-v2")
	v.SetDefault("RUNTIME_CACHE", "runtime-v2")
	v.SetDefault("SHELL_URLS", "/,/login,/manifest.json,/app_icon_192.png,/app_icon_512.png")

	v.SetDefault("SYNC_TAG", "sync-checkins")
	v.SetDefault("SYNC_SCHEDULE", "@every 5m")
	v.SetDefault("SYNC_ATTEMPT_TIMEOUT", 15*time.Second)
	v.SetDefault("SYNC_MAX_ATTEMPTS", 0)

	v.SetDefault("AWS_REGION", "us-east-1") // Default region for AWS services
	v.SetDefault("AWS_ENDPOINT", "http://localstack:4566")
	v.SetDefault("EVENTS_SQS_QUEUE_URL", "")

	v.SetDefault("NOTIFY_EMAIL_FROM", "")
	v.SetDefault("NOTIFY_EMAIL_TO", "")

	v.SetDefault("MAPBOX_TOKEN", "")

	v.SetDefault("OTEL_EXPORTER", "none")
	v.SetDefault("OTEL_ENDPOINT", "jaeger:4317")
}

// Shell returns the shell URLs precached on install.
func (c Config) Shell() []string {
	return splitList(c.ShellURLs)
}

// Hosts returns the hostnames that identify the deployed origin.
func (c Config) Hosts() []string {
	return splitList(c.AppHosts)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
