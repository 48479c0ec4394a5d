package env

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Outbound call providers.
const (
	ProviderElevenLabs = "elevenlabs"
	ProviderTwilio     = "twilio"
)

type Config struct {
	AppEnv   string
	AppPort  string
	TZ       string
	LogLevel string

	// AI engine (ElevenLabs Conversational AI)
	ElevenLabsAgentID      string
	ElevenLabsAPIKey       string
	ElevenLabsAgentPhoneID string
	ElevenLabsBaseURL      string

	// Datastore
	MongoURI        string
	MongoUser       string
	MongoServiceKey string
	DBName          string

	WebhookSecret string

	RedisURL string

	// Public host used to build wss:// stream URLs; falls back to the request Host header
	PublicHost         string
	CORSAllowedOrigins string

	OutboundProvider     string
	OutboundRateLimitRPM int

	TwilioAccountSID       string
	TwilioAuthToken        string
	TwilioFromNumber       string
	TwilioValidateRequests bool

	AdminJWTSecret string

	AgentConnectTimeout    time.Duration
	SessionTeardownTimeout time.Duration

	OTELEndpoint string
	OTELEnabled  bool
}

// Load reads configuration from the process environment, after merging envFile
// when it exists. Every missing required variable is reported in one error.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		// A missing .env is fine; deployments usually inject the environment directly
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load .env file: %w", err)
		}
	}

	req := &required{}
	cfg := &Config{
		AppEnv:   getEnv("APP_ENV", "development"),
		AppPort:  getEnv("APP_PORT", "8000"),
		TZ:       getEnv("TZ", "UTC"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		ElevenLabsAgentID:      req.get("ELEVENLABS_AGENT_ID"),
		ElevenLabsAPIKey:       req.get("ELEVENLABS_API_KEY"),
		ElevenLabsAgentPhoneID: req.get("ELEVENLABS_AGENT_PHONE_ID"),
		ElevenLabsBaseURL:      getEnv("ELEVENLABS_BASE_URL", "https://api.elevenlabs.io"),

		MongoURI:        req.get("MONGO_URI"),
		MongoUser:       getEnv("MONGO_USER", "service_role"),
		MongoServiceKey: req.get("MONGO_SERVICE_KEY"),
		DBName:          getEnv("DB_NAME", "carecall"),

		WebhookSecret: req.get("WEBHOOK_SECRET"),

		RedisURL: getEnv("REDIS_URL", ""),

		PublicHost:         getEnv("PUBLIC_HOST", ""),
		CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "*"),

		OutboundProvider:     strings.ToLower(getEnv("OUTBOUND_PROVIDER", ProviderElevenLabs)),
		OutboundRateLimitRPM: getEnvInt("OUTBOUND_RATE_LIMIT_RPM", 30),

		TwilioAccountSID:       getEnv("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:        getEnv("TWILIO_AUTH_TOKEN", ""),
		TwilioFromNumber:       getEnv("TWILIO_FROM_NUMBER", ""),
		TwilioValidateRequests: getEnvBool("TWILIO_VALIDATE_REQUESTS", false),

		AdminJWTSecret: getEnv("ADMIN_JWT_SECRET", ""),

		AgentConnectTimeout:    time.Duration(getEnvInt("AGENT_CONNECT_TIMEOUT_MS", 10000)) * time.Millisecond,
		SessionTeardownTimeout: time.Duration(getEnvInt("SESSION_TEARDOWN_TIMEOUT_MS", 5000)) * time.Millisecond,

		OTELEndpoint: getEnv("OTEL_ENDPOINT", ""),
		OTELEnabled:  getEnvBool("OTEL_ENABLED", false),
	}

	if len(req.missing) > 0 {
		return nil, fmt.Errorf("required environment variables not set: %s", strings.Join(req.missing, ", "))
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	loc, err := time.LoadLocation(cfg.TZ)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %s: %w", cfg.TZ, err)
	}
	time.Local = loc

	return cfg, nil
}

func (c *Config) validate() error {
	switch c.OutboundProvider {
	case ProviderElevenLabs:
	case ProviderTwilio:
		if c.TwilioAccountSID == "" || c.TwilioAuthToken == "" || c.TwilioFromNumber == "" {
			return fmt.Errorf("OUTBOUND_PROVIDER=twilio requires TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN and TWILIO_FROM_NUMBER")
		}
	default:
		return fmt.Errorf("unknown OUTBOUND_PROVIDER %q", c.OutboundProvider)
	}
	if c.TwilioValidateRequests && c.TwilioAuthToken == "" {
		return fmt.Errorf("TWILIO_VALIDATE_REQUESTS requires TWILIO_AUTH_TOKEN")
	}
	return nil
}

// IsProduction reports whether the service runs with production settings.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

type required struct {
	missing []string
}

func (r *required) get(key string) string {
	value := os.Getenv(key)
	if value == "" {
		r.missing = append(r.missing, key)
	}
	return value
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	strValue := os.Getenv(key)
	if strValue == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(strValue)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvBool(key string, defaultValue bool) bool {
	strValue := os.Getenv(key)
	if strValue == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(strValue)
	if err != nil {
		return defaultValue
	}
	return value
}
