package config

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"
)

var knownWeakSecrets = []string{
	"change-me", "dev-secret-change-me", "secret", "jwt-secret", "password",
}

type Config struct {
	Port        int    `env:"PORT" envDefault:"8080"`
	DatabaseURL string `env:"DATABASE_URL,required"`
	RedisURL    string `env:"REDIS_URL,required"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	AppBaseURL  string `env:"APP_BASE_URL" envDefault:"http://localhost:5173"`

	JWTSecret string `env:"JWT_SECRET"`

	StripeSecretKey     string `env:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret string `env:"STRIPE_WEBHOOK_SECRET"`
	StripeAPIBaseURL    string `env:"STRIPE_API_BASE_URL" envDefault:"https://api.stripe.com"`

	RazorpayKeyID         string `env:"RAZORPAY_KEY_ID"`
	RazorpayKeySecret     string `env:"RAZORPAY_KEY_SECRET"`
	RazorpayWebhookSecret string `env:"RAZORPAY_WEBHOOK_SECRET"`
	RazorpayAPIBaseURL    string `env:"RAZORPAY_API_BASE_URL" envDefault:"https://api.razorpay.com"`

	OpenAIAPIKey  string `env:"OPENAI_API_KEY"`
	OpenAIBaseURL string `env:"OPENAI_BASE_URL"`
	AnswerModel   string `env:"ANSWER_MODEL" envDefault:"gpt-4o-mini"`

	ResendAPIKey  string `env:"RESEND_API_KEY"`
	ResendBaseURL string `env:"RESEND_BASE_URL" envDefault:"https://api.resend.com"`
	EmailFrom     string `env:"EMAIL_FROM" envDefault:"InterviewAce <onboarding@resend.dev>"`

	S3Bucket          string `env:"S3_BUCKET"`
	S3Region          string `env:"S3_REGION" envDefault:"us-east-1"`
	S3Endpoint        string `env:"S3_ENDPOINT"`
	S3AccessKeyID     string `env:"S3_ACCESS_KEY_ID"`
	S3SecretAccessKey string `env:"S3_SECRET_ACCESS_KEY"`

	AudioSampleRate     int `env:"AUDIO_SAMPLE_RATE" envDefault:"48000"`
	AudioFlushFrames    int `env:"AUDIO_FLUSH_FRAMES" envDefault:"32"`
	SessionCodeAttempts int `env:"SESSION_CODE_ATTEMPTS_PER_MIN" envDefault:"10"`
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// AudioFlushSamples is the number of samples buffered by the audio socket
// before a block is sent for transcription.
func (c *Config) AudioFlushSamples() int {
	frames := c.AudioFlushFrames
	if frames <= 0 {
		frames = 1
	}
	return frames * AudioFrameSamples
}

func (c *Config) S3Enabled() bool {
	return c.S3Bucket != "" && c.S3AccessKeyID != "" && c.S3SecretAccessKey != ""
}

func (c *Config) Validate(isProduction bool) error {
	if c.AudioSampleRate <= 0 {
		return fmt.Errorf("AUDIO_SAMPLE_RATE must be positive")
	}
	if c.StripeSecretKey != "" && !strings.HasPrefix(c.StripeSecretKey, "sk_") && !strings.HasPrefix(c.StripeSecretKey, "rk_") {
		return fmt.Errorf("STRIPE_SECRET_KEY must start with sk_ or rk_")
	}

	if isProduction {
		if err := validateSecret("JWT_SECRET", c.JWTSecret); err != nil {
			return err
		}

		if c.StripeWebhookSecret == "" {
			log.Warn().Msg("STRIPE_WEBHOOK_SECRET is empty in production: stripe webhooks will be rejected")
		}
		if c.RazorpayWebhookSecret == "" {
			log.Warn().Msg("RAZORPAY_WEBHOOK_SECRET is empty in production: razorpay webhooks will be rejected")
		}
		if c.ResendAPIKey == "" {
			log.Warn().Msg("RESEND_API_KEY is empty in production: transactional email disabled")
		}
		if !c.S3Enabled() {
			log.Warn().Msg("S3 is not configured in production: resume files will not be stored")
		}
		if strings.HasPrefix(c.RedisURL, "redis://") {
			log.Warn().Msg("REDIS_URL uses redis:// (not TLS) in production: consider using rediss://")
		}
	}

	return nil
}

func validateSecret(name, value string) error {
	if len(value) < 32 {
		return fmt.Errorf("%s must be at least 32 characters in production (generate with: openssl rand -base64 32)", name)
	}
	for _, weak := range knownWeakSecrets {
		if value == weak {
			return fmt.Errorf("%s is a known weak default; set a strong secret in production", name)
		}
	}
	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

