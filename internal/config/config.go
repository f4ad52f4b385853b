package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StoreDriverRedis  = "redis"
	StoreDriverMemory = "memory"
)

// Config contains runtime configuration values.
type Config struct {
	Environment string
	HTTPPort    string
	ServiceName string

	StoreDriver   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisTimeout  time.Duration

	TokenTTL         time.Duration
	TokenGracePeriod time.Duration

	AllowedOrigins   []string
	AllowedHosts     []string
	PlatformIPHeader string

	RateLimitBypassUsers []string
	RateLimitFailOpen    bool
	AppletAnonTextLimit  int
	AppletAnonImageLimit int
	AppletAuthTextLimit  int
	AppletAuthImageLimit int
	AppletWindow         time.Duration
	ChatMessageLimit     int
	ChatWindow           time.Duration

	GeminiAPIKey      string
	GeminiBaseURL     string
	AppletTextModel   string
	AppletImageModel  string
	ChatModels        []string
	ChatDefaultModel  string
	GenerationTimeout time.Duration
	GenerationRPS     float64
	GenerationBurst   int
	GenerationRetries int

	HandlerTimeout time.Duration
	MaxBodyBytes   int64
	StaticDir      string

	TelemetryEndpoint    string
	TelemetryInsecure    bool
	TelemetrySampleRatio float64
}

// Load reads configuration from environment variables with sane defaults.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Environment: getEnv("APP_ENV", "development"),
		HTTPPort:    getEnv("HTTP_PORT", "8080"),
		ServiceName: getEnv("SERVICE_NAME", "windows97-api"),

		StoreDriver:   strings.ToLower(getEnv("STORE_DRIVER", StoreDriverRedis)),
		RedisAddr:     getEnv("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getInt("REDIS_DB", 0),
		RedisTimeout:  getDuration("REDIS_TIMEOUT", 2*time.Second),

		TokenTTL:         getDuration("TOKEN_TTL", 90*24*time.Hour),
		TokenGracePeriod: getDuration("TOKEN_GRACE_PERIOD", 365*24*time.Hour),

		AllowedOrigins: getList("ALLOWED_ORIGINS", []string{"https://os.ryo.lu", "http://localhost:3000"}),
		AllowedHosts: getList("ALLOWED_HOSTS", []string{
			"os.ryo.lu", "ryo.lu",
			"localhost:3000", "localhost:5173",
			"127.0.0.1:3000", "127.0.0.1:5173",
		}),
		PlatformIPHeader: getEnv("PLATFORM_IP_HEADER", "X-Vercel-Forwarded-For"),

		RateLimitBypassUsers: getList("RATE_LIMIT_BYPASS_USERS", []string{"ryo"}),
		RateLimitFailOpen:    getBool("RATE_LIMIT_FAIL_OPEN", true),
		AppletAnonTextLimit:  getInt("APPLET_ANON_TEXT_LIMIT", 15),
		AppletAnonImageLimit: getInt("APPLET_ANON_IMAGE_LIMIT", 1),
		AppletAuthTextLimit:  getInt("APPLET_AUTH_TEXT_LIMIT", 50),
		AppletAuthImageLimit: getInt("APPLET_AUTH_IMAGE_LIMIT", 12),
		AppletWindow:         getDuration("APPLET_WINDOW", time.Hour),
		ChatMessageLimit:     getInt("CHAT_MESSAGE_LIMIT", 25),
		ChatWindow:           getDuration("CHAT_WINDOW", 5*time.Hour),

		GeminiAPIKey:      os.Getenv("GEMINI_API_KEY"),
		GeminiBaseURL:     getEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com"),
		AppletTextModel:   getEnv("APPLET_TEXT_MODEL", "gemini-2.5-flash"),
		AppletImageModel:  getEnv("APPLET_IMAGE_MODEL", "gemini-2.5-flash-image-preview"),
		ChatModels:        getList("CHAT_MODELS", []string{"gemini-2.5-flash", "gemini-2.5-pro"}),
		ChatDefaultModel:  getEnv("CHAT_DEFAULT_MODEL", "gemini-2.5-flash"),
		GenerationTimeout: getDuration("GENERATION_TIMEOUT", 55*time.Second),
		GenerationRPS:     getFloat("GENERATION_RPS", 10),
		GenerationBurst:   getInt("GENERATION_BURST", 20),
		GenerationRetries: getInt("GENERATION_MAX_RETRIES", 2),

		HandlerTimeout: getDuration("HANDLER_TIMEOUT", 80*time.Second),
		MaxBodyBytes:   int64(getInt("MAX_BODY_BYTES", 32<<20)),
		StaticDir:      os.Getenv("STATIC_DIR"),

		TelemetryEndpoint:    os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		TelemetryInsecure:    getBool("OTEL_EXPORTER_OTLP_INSECURE", true),
		TelemetrySampleRatio: getFloat("OTEL_TRACES_SAMPLER_ARG", 1),
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}

	if cfg.GenerationBurst < 1 {
		cfg.GenerationBurst = 1
	}

	return cfg, nil
}

func (c Config) validate() error {
	switch c.StoreDriver {
	case StoreDriverRedis:
		if strings.TrimSpace(c.RedisAddr) == "" {
			return fmt.Errorf("REDIS_ADDR is required when STORE_DRIVER=redis")
		}
	case StoreDriverMemory:
	default:
		return fmt.Errorf("STORE_DRIVER must be %q or %q", StoreDriverRedis, StoreDriverMemory)
	}

	limits := map[string]int{
		"APPLET_ANON_TEXT_LIMIT":  c.AppletAnonTextLimit,
		"APPLET_ANON_IMAGE_LIMIT": c.AppletAnonImageLimit,
		"APPLET_AUTH_TEXT_LIMIT":  c.AppletAuthTextLimit,
		"APPLET_AUTH_IMAGE_LIMIT": c.AppletAuthImageLimit,
		"CHAT_MESSAGE_LIMIT":      c.ChatMessageLimit,
	}
	for name, v := range limits {
		if v <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	if c.AppletWindow < time.Second || c.ChatWindow < time.Second {
		return fmt.Errorf("rate limit windows must be at least one second")
	}
	if c.TokenTTL <= 0 || c.TokenGracePeriod <= 0 {
		return fmt.Errorf("TOKEN_TTL and TOKEN_GRACE_PERIOD must be positive")
	}
	if len(c.ChatModels) == 0 {
		return fmt.Errorf("CHAT_MODELS must list at least one model")
	}
	if !c.IsChatModel(c.ChatDefaultModel) {
		return fmt.Errorf("CHAT_DEFAULT_MODEL %q is not listed in CHAT_MODELS", c.ChatDefaultModel)
	}
	if c.GenerationRPS <= 0 {
		return fmt.Errorf("GENERATION_RPS must be positive")
	}
	return nil
}

// IsChatModel reports whether model is one of the configured chat models.
func (c Config) IsChatModel(model string) bool {
	for _, m := range c.ChatModels {
		if m == model {
			return true
		}
	}
	return false
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		d, err := time.ParseDuration(v)
		if err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v, ok := os.LookupEnv(key); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err == nil {
			return f
		}
	}
	return def
}

func getBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(v) {
		case "1", "true", "t", "yes", "y", "on":
			return true
		case "0", "false", "f", "no", "n", "off":
			return false
		}
	}
	return def
}

func getList(key string, def []string) []string {
	if v, ok := os.LookupEnv(key); ok {
		parts := strings.Split(v, ",")
		var cleaned []string
		for _, p := range parts {
			trimmed := strings.TrimSpace(p)
			if trimmed != "" {
				cleaned = append(cleaned, trimmed)
			}
		}
		if len(cleaned) > 0 {
			return cleaned
		}
	}
	return def
}
