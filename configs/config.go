package config

import (
	"os"
	"strconv"
	"time"
)

type R2 struct {
	AccountID  string
	AccessKey  string
	SecretKey  string
	BucketName string
	PublicURL  string
}

type Tiktok struct {
	ClientKey    string
	ClientSecret string
	RedirectURI  string
	// Sandbox mode publishes through the creator-inbox endpoints, which
	// work without app review but land posts in the user's inbox.
	SandboxMode bool
}

// RetryPolicy is a fixed ladder of delays indexed by attempt count.
type RetryPolicy struct {
	MaxRetries int
	Delays     []time.Duration
}

// DelayFor returns the delay before the given retry attempt (0-based).
// Attempts past the last rung are capped at the final delay.
func (p RetryPolicy) DelayFor(attempt int) time.Duration {
	if len(p.Delays) == 0 {
		return 0
	}
	if attempt < 0 {
		attempt = 0
	}
	if attempt >= len(p.Delays) {
		return p.Delays[len(p.Delays)-1]
	}
	return p.Delays[attempt]
}

type Config struct {
	Tiktok             Tiktok
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURI  string
	PostgresURI        string
	RedisURI           string
	FrontendURL        string
	R2                 R2
	SecretKey          string
	CookieName         string

	PublishRetry   RetryPolicy
	SlideshowRetry RetryPolicy
}

func LoadConfig() *Config {
	return &Config{
		Tiktok: Tiktok{
			ClientKey:    getEnv("TIKTOK_CLIENT_KEY", ""),
			ClientSecret: getEnv("TIKTOK_CLIENT_SECRET", ""),
			RedirectURI:  getEnv("TIKTOK_REDIRECT_URI", ""),
			SandboxMode:  getEnvBool("TIKTOK_SANDBOX_MODE", true),
		},
		GoogleClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),
		GoogleRedirectURI:  getEnv("GOOGLE_REDIRECT_URI", ""),
		PostgresURI:        getEnv("POSTGRES_URI", ""),
		RedisURI:           getEnv("REDIS_URI", ""),
		FrontendURL:        getEnv("FRONTEND_URL", "http://localhost:5173"),
		R2: R2{
			AccountID:  getEnv("R2_ACCOUNT_ID", ""),
			AccessKey:  getEnv("R2_ACCESS_KEY", ""),
			SecretKey:  getEnv("R2_SECRET_KEY", ""),
			BucketName: getEnv("R2_BUCKET_NAME", ""),
			PublicURL:  getEnv("R2_PUBLIC_URL", ""),
		},
		SecretKey:  getEnv("SECRET_KEY", ""),
		CookieName: getEnv("COOKIE_NAME", ""),

		PublishRetry: RetryPolicy{
			MaxRetries: getEnvInt("PUBLISH_MAX_RETRIES", 3),
			Delays: []time.Duration{
				5 * time.Minute,
				15 * time.Minute,
				30 * time.Minute,
			},
		},
		SlideshowRetry: RetryPolicy{
			MaxRetries: getEnvInt("SLIDESHOW_MAX_RETRIES", 2),
			Delays: []time.Duration{
				2 * time.Minute,
				5 * time.Minute,
			},
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
