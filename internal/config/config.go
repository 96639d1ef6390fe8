package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr string
	GRPCAddr string // empty disables the health endpoint

	// DB
	Env      string // "dev" | "prod"
	DBPath   string // e.g. "./data/keybox.db"
	SeedFile string // YAML fixture, dev only

	DefaultDevice string
	KnownDevices  []string

	LogLevel  string
	LogFormat string // "text" | "json"

	// Brokers; an empty address disables the transport.
	MQTTBroker   string
	MQTTTopic    string
	MQTTClientID string
	AMQPURL      string
	AMQPQueue    string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisChannel  string

	// Device watchdog
	DeviceOfflineMinutes int // 0 disables
	WatchdogInterval     time.Duration

	ShutdownTimeout time.Duration
}

// Load reads an optional .env file and then the environment.  Variables
// already set in the environment win over the file.
func Load() Config {
	_ = godotenv.Load()
	return FromEnv()
}

func FromEnv() Config {
	env := strings.ToLower(getenvDefault("KEYBOX_ENV", "dev"))
	if env != "dev" && env != "prod" {
		// fail-soft: treat unknown as dev
		env = "dev"
	}

	logFormat := strings.ToLower(getenvDefault("KEYBOX_LOG_FORMAT", "text"))
	if logFormat != "json" {
		logFormat = "text"
	}

	return Config{
		HTTPAddr: getenvDefault("KEYBOX_HTTP_ADDR", ":8080"),
		GRPCAddr: getenvOptional("KEYBOX_GRPC_ADDR", ":9090"),

		Env:      env,
		DBPath:   getenvDefault("KEYBOX_DB_PATH", "./data/keybox.db"),
		SeedFile: strings.TrimSpace(os.Getenv("KEYBOX_SEED_FILE")),

		DefaultDevice: getenvDefault("KEYBOX_DEFAULT_DEVICE", "keybox-01"),
		KnownDevices:  splitCSV(os.Getenv("KEYBOX_KNOWN_DEVICES")),

		LogLevel:  strings.ToLower(getenvDefault("KEYBOX_LOG_LEVEL", "info")),
		LogFormat: logFormat,

		MQTTBroker:   strings.TrimSpace(os.Getenv("KEYBOX_MQTT_BROKER")),
		MQTTTopic:    getenvDefault("KEYBOX_MQTT_TOPIC", "keybox/+/events"),
		MQTTClientID: strings.TrimSpace(os.Getenv("KEYBOX_MQTT_CLIENT_ID")),
		AMQPURL:      strings.TrimSpace(os.Getenv("KEYBOX_AMQP_URL")),
		AMQPQueue:    getenvDefault("KEYBOX_AMQP_QUEUE", "keybox.events"),

		RedisAddr:     strings.TrimSpace(os.Getenv("KEYBOX_REDIS_ADDR")),
		RedisPassword: os.Getenv("KEYBOX_REDIS_PASSWORD"),
		RedisDB:       getenvInt("KEYBOX_REDIS_DB", 0),
		RedisChannel:  getenvDefault("KEYBOX_REDIS_CHANNEL", "keybox.ledger"),

		DeviceOfflineMinutes: getenvInt("KEYBOX_DEVICE_OFFLINE_MINUTES", 10),
		WatchdogInterval:     time.Duration(getenvInt("KEYBOX_WATCHDOG_INTERVAL_SECONDS", 60)) * time.Second,

		ShutdownTimeout: getenvDuration("KEYBOX_SHUTDOWN_TIMEOUT", 5*time.Second),
	}
}

func getenvDefault(key, def string) string {
	v := os.Getenv(key)
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

// getenvOptional is getenvDefault, except that a variable set to the empty
// string turns the feature off.
func getenvOptional(key, def string) string {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	return strings.TrimSpace(v)
}

func getenvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func getenvDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func splitCSV(v string) []string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
