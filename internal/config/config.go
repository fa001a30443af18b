package config

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds application configuration
type Config struct {
	App       AppConfig
	MQTT      MQTTConfig
	Redis     RedisConfig
	DBURL     string
	Prayer    PrayerConfig
	Scheduler SchedulerConfig
	MDNSName  string
}

// AppConfig holds the HTTP and process settings
type AppConfig struct {
	Port     int
	Timezone string
	LogLevel string
}

// MQTTConfig holds the broker settings
type MQTTConfig struct {
	Broker   string
	ClientID string
}

// RedisConfig holds the shared store settings; an empty Addr selects the
// in-memory store
type RedisConfig struct {
	Addr    string
	Channel string
}

// PrayerConfig holds the prayer time service settings
type PrayerConfig struct {
	APIURL      string
	DefaultCity string
}

// SchedulerConfig holds the periodic job intervals
type SchedulerConfig struct {
	Tick          time.Duration
	DeviceSweep   time.Duration
	DeviceTimeout time.Duration
	RefreshCheck  time.Duration
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_PORT", 5069)
	v.SetDefault("APP_TIMEZONE", "Local")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("MQTT_BROKER", "tcp://localhost:1883")
	v.SetDefault("MQTT_CLIENT_ID", "mosque-engine")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_CHANNEL", "mosque:storage")
	v.SetDefault("DB_URL", "")
	v.SetDefault("PRAYER_API_URL", "http://localhost:5000")
	v.SetDefault("PRAYER_DEFAULT_CITY", "Manama")
	v.SetDefault("SCHEDULER_TICK", 30*time.Second)
	v.SetDefault("DEVICE_SWEEP", 60*time.Second)
	v.SetDefault("DEVICE_TIMEOUT", 120*time.Second)
	v.SetDefault("PRAYER_REFRESH_CHECK", 10*time.Minute)
	v.SetDefault("MDNS_LOCAL_NAME", "mosque.local")
}

// LoadConfig reads configuration from .env, config.yaml and env vars
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("CONFIG: No .env file loaded: %v", err)
	}

	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config.yaml: %w", err)
		}
	}

	cfg := &Config{
		App: AppConfig{
			Port:     v.GetInt("APP_PORT"),
			Timezone: v.GetString("APP_TIMEZONE"),
			LogLevel: v.GetString("LOG_LEVEL"),
		},
		MQTT: MQTTConfig{
			Broker:   v.GetString("MQTT_BROKER"),
			ClientID: v.GetString("MQTT_CLIENT_ID"),
		},
		Redis: RedisConfig{
			Addr:    v.GetString("REDIS_ADDR"),
			Channel: v.GetString("REDIS_CHANNEL"),
		},
		DBURL: v.GetString("DB_URL"),
		Prayer: PrayerConfig{
			APIURL:      v.GetString("PRAYER_API_URL"),
			DefaultCity: v.GetString("PRAYER_DEFAULT_CITY"),
		},
		Scheduler: SchedulerConfig{
			Tick:          v.GetDuration("SCHEDULER_TICK"),
			DeviceSweep:   v.GetDuration("DEVICE_SWEEP"),
			DeviceTimeout: v.GetDuration("DEVICE_TIMEOUT"),
			RefreshCheck:  v.GetDuration("PRAYER_REFRESH_CHECK"),
		},
		MDNSName: v.GetString("MDNS_LOCAL_NAME"),
	}
	if cfg.App.Port <= 0 || cfg.App.Port > 65535 {
		return nil, fmt.Errorf("invalid APP_PORT %d", cfg.App.Port)
	}
	return cfg, nil
}

// Location returns the configured time zone
func (c *Config) Location() (*time.Location, error) {
	if c.App.Timezone == "" || c.App.Timezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.App.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load time zone %q: %w", c.App.Timezone, err)
	}
	return loc, nil
}
