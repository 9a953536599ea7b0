package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port        string `mapstructure:"PORT"`
	Env         string `mapstructure:"ENV"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32  `mapstructure:"DB_MIN_CONNS"`
	DBSchema    string `mapstructure:"DB_SCHEMA"`

	RedisURL          string `mapstructure:"REDIS_URL"`
	AMQPURL           string `mapstructure:"AMQP_URL"`
	NotificationQueue string `mapstructure:"NOTIFICATION_QUEUE"`

	JWTSecret string        `mapstructure:"JWT_SECRET"`
	JWTTTL    time.Duration `mapstructure:"JWT_TTL"`

	CORSOrigins    []string `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS   float64  `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int      `mapstructure:"RATE_LIMIT_BURST"`

	AWSRegion    string `mapstructure:"AWS_REGION"`
	S3Bucket     string `mapstructure:"S3_BUCKET"`
	SESFromEmail string `mapstructure:"SES_FROM_EMAIL"`
	SNSSenderID  string `mapstructure:"SNS_SENDER_ID"`

	SendGridAPIKey    string `mapstructure:"SENDGRID_API_KEY"`
	SendGridFromEmail string `mapstructure:"SENDGRID_FROM_EMAIL"`

	TwilioAccountSID string `mapstructure:"TWILIO_ACCOUNT_SID"`
	TwilioAuthToken  string `mapstructure:"TWILIO_AUTH_TOKEN"`
	TwilioFromNumber string `mapstructure:"TWILIO_FROM_NUMBER"`

	OpenAIAPIKey string `mapstructure:"OPENAI_API_KEY"`
	OpenAIModel  string `mapstructure:"OPENAI_MODEL"`

	RADSJitter float64 `mapstructure:"RADS_JITTER"`

	RecaptchaSecret   string  `mapstructure:"RECAPTCHA_SECRET"`
	RecaptchaMinScore float64 `mapstructure:"RECAPTCHA_MIN_SCORE"`

	PasswordResetURL string        `mapstructure:"PASSWORD_RESET_URL"`
	PasswordResetTTL time.Duration `mapstructure:"PASSWORD_RESET_TTL"`
}

var keys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "DB_SCHEMA",
	"REDIS_URL", "AMQP_URL", "NOTIFICATION_QUEUE",
	"JWT_SECRET", "JWT_TTL",
	"CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
	"AWS_REGION", "S3_BUCKET", "SES_FROM_EMAIL", "SNS_SENDER_ID",
	"SENDGRID_API_KEY", "SENDGRID_FROM_EMAIL",
	"TWILIO_ACCOUNT_SID", "TWILIO_AUTH_TOKEN", "TWILIO_FROM_NUMBER",
	"OPENAI_API_KEY", "OPENAI_MODEL", "RADS_JITTER",
	"RECAPTCHA_SECRET", "RECAPTCHA_MIN_SCORE",
	"PASSWORD_RESET_URL", "PASSWORD_RESET_TTL",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("DB_SCHEMA", "public")
	v.SetDefault("NOTIFICATION_QUEUE", "hms.notifications")
	v.SetDefault("JWT_TTL", "24h")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 50)
	v.SetDefault("RATE_LIMIT_BURST", 100)
	v.SetDefault("AWS_REGION", "us-east-1")
	v.SetDefault("OPENAI_MODEL", "gpt-4o-mini")
	v.SetDefault("RADS_JITTER", 0)
	v.SetDefault("RECAPTCHA_MIN_SCORE", 0.5)
	v.SetDefault("PASSWORD_RESET_URL", "http://localhost:3000/reset-password")
	v.SetDefault("PASSWORD_RESET_TTL", "1h")

	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// .env is optional
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) <= 1 {
		if origins := v.GetString("CORS_ORIGINS"); origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() {
		log.Println("WARNING: running with ENV=development; requests without a token are treated as super_admin")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// EmailFallbackConfigured reports whether SendGrid credentials are present.
func (c *Config) EmailFallbackConfigured() bool {
	return c.SendGridAPIKey != "" && c.SendGridFromEmail != ""
}

// SMSFallbackConfigured reports whether Twilio credentials are present.
func (c *Config) SMSFallbackConfigured() bool {
	return c.TwilioAccountSID != "" && c.TwilioAuthToken != "" && c.TwilioFromNumber != ""
}

// Validate checks settings that must hold before the server starts.
func (c *Config) Validate() error {
	if !c.IsDev() && c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required when ENV=%q", c.Env)
	}
	if c.IsProduction() && len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 bytes in production, got %d", len(c.JWTSecret))
	}
	if c.JWTTTL <= 0 {
		return fmt.Errorf("JWT_TTL must be positive")
	}
	if c.PasswordResetTTL <= 0 {
		return fmt.Errorf("PASSWORD_RESET_TTL must be positive")
	}
	if c.RecaptchaMinScore < 0 || c.RecaptchaMinScore > 1 {
		return fmt.Errorf("RECAPTCHA_MIN_SCORE must be between 0 and 1, got %v", c.RecaptchaMinScore)
	}
	if c.RADSJitter < 0 || c.RADSJitter > 5 {
		return fmt.Errorf("RADS_JITTER must be between 0 and 5, got %v", c.RADSJitter)
	}
	if c.TwilioAccountSID != "" && c.TwilioFromNumber == "" {
		return fmt.Errorf("TWILIO_FROM_NUMBER is required when TWILIO_ACCOUNT_SID is set")
	}
	return nil
}
