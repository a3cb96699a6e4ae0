/**
 * @description
 * This package handles configuration management for the assignment-service.
 * It uses Viper to read settings from environment variables (and an optional
 * .env file loaded in main), providing defaults and post-load validation.
 *
 * @dependencies
 * - github.com/spf13/viper: Configuration management library.
 */
package config

import (
	"errors"
	"log"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the assignment-service.
type Config struct {
	Environment                string `mapstructure:"ENVIRONMENT"`
	ServerPort                 string `mapstructure:"SERVER_PORT"`
	DatabaseURL                string `mapstructure:"DATABASE_URL"`
	RabbitMQURL                string `mapstructure:"RABBITMQ_URL"`
	RedisURL                   string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix       string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	AuthJWTSecret              string `mapstructure:"AUTH_JWT_SECRET"`
	AuthAllowHeaderFallback    bool   `mapstructure:"AUTH_ALLOW_HEADER_FALLBACK"`
	LemonSqueezyWebhookSecret  string `mapstructure:"LEMONSQUEEZY_WEBHOOK_SECRET"`
	AllowUnsignedWebhooks      bool   `mapstructure:"ALLOW_UNSIGNED_WEBHOOKS"`
	PresenceHeartbeatSeconds   int    `mapstructure:"PRESENCE_HEARTBEAT_SECONDS"`
	PresenceRateLimitPerMinute int    `mapstructure:"PRESENCE_RATE_LIMIT_PER_MINUTE"`
	WebhookEventRetentionHours int    `mapstructure:"WEBHOOK_EVENT_RETENTION_HOURS"`
	RetentionJobSchedule       string `mapstructure:"RETENTION_JOB_SCHEDULE"`
	EventsExchange             string `mapstructure:"EVENTS_EXCHANGE"`
	PresenceEventQueue         string `mapstructure:"PRESENCE_EVENT_QUEUE"`
}

// IsProduction reports whether the service runs with production hardening.
func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}

// LoadConfig reads configuration from environment variables.
func LoadConfig() (Config, error) {
	viper.SetDefault("ENVIRONMENT", "development")
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "scribelink:rate_limit")
	viper.SetDefault("PRESENCE_HEARTBEAT_SECONDS", 60)
	viper.SetDefault("PRESENCE_RATE_LIMIT_PER_MINUTE", 120)
	viper.SetDefault("WEBHOOK_EVENT_RETENTION_HOURS", 72)
	viper.SetDefault("RETENTION_JOB_SCHEDULE", "@hourly")
	viper.SetDefault("EVENTS_EXCHANGE", "scribelink.events")
	viper.SetDefault("PRESENCE_EVENT_QUEUE", "assignment_service.presence_updates")

	viper.AutomaticEnv()

	// Bind environment variables explicitly to ensure they appear in Unmarshal.
	_ = viper.BindEnv("ENVIRONMENT")
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("AUTH_JWT_SECRET")
	_ = viper.BindEnv("AUTH_ALLOW_HEADER_FALLBACK")
	_ = viper.BindEnv("LEMONSQUEEZY_WEBHOOK_SECRET")
	_ = viper.BindEnv("ALLOW_UNSIGNED_WEBHOOKS")
	_ = viper.BindEnv("PRESENCE_HEARTBEAT_SECONDS")
	_ = viper.BindEnv("PRESENCE_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("WEBHOOK_EVENT_RETENTION_HOURS")
	_ = viper.BindEnv("RETENTION_JOB_SCHEDULE")
	_ = viper.BindEnv("EVENTS_EXCHANGE")
	_ = viper.BindEnv("PRESENCE_EVENT_QUEUE")

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return config, err
	}

	// Hosting platforms inject PORT; prefer it when set.
	if port := strings.TrimSpace(viper.GetString("PORT")); port != "" {
		config.ServerPort = port
	}

	config.LemonSqueezyWebhookSecret = strings.TrimSpace(config.LemonSqueezyWebhookSecret)
	config.AuthJWTSecret = strings.TrimSpace(config.AuthJWTSecret)

	if config.PresenceHeartbeatSeconds <= 0 {
		config.PresenceHeartbeatSeconds = 60
	}
	if config.PresenceRateLimitPerMinute < 0 {
		config.PresenceRateLimitPerMinute = 0
	}
	if config.WebhookEventRetentionHours <= 0 {
		config.WebhookEventRetentionHours = 72
	}

	// The webhook endpoint fails closed in production: an unset signing secret
	// would silently accept forged provider events.
	if config.IsProduction() {
		if config.LemonSqueezyWebhookSecret == "" {
			return config, errors.New("LEMONSQUEEZY_WEBHOOK_SECRET must be configured in production")
		}
		if config.AllowUnsignedWebhooks {
			return config, errors.New("ALLOW_UNSIGNED_WEBHOOKS cannot be enabled in production")
		}
		if config.AuthJWTSecret == "" {
			return config, errors.New("AUTH_JWT_SECRET must be configured in production")
		}
	} else if config.LemonSqueezyWebhookSecret == "" && !config.AllowUnsignedWebhooks {
		log.Printf("level=warn component=config msg=\"webhook secret not set; unsigned webhooks will be rejected unless ALLOW_UNSIGNED_WEBHOOKS=true\"")
	}

	return config, nil
}
