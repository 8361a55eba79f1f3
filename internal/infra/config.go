package infra

import (
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"fireflow/internal/domain"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv      string
	Port        string
	DatabaseURL string
	OutputDir   string

	IMSTokenURL         string
	FireflyClientID     string
	FireflyClientSecret string
	FireflyBaseURL      string
	FireflyScopes       string

	PhotoshopClientID     string
	PhotoshopClientSecret string
	PhotoshopBaseURL      string
	PhotoshopScopes       string

	PDFClientID     string
	PDFClientSecret string
	PDFBaseURL      string
	PDFTokenURL     string

	GeminiAPIKey  string
	GeminiBaseURL string
	GeminiModel   string

	StorageProvider     string
	DropboxAppKey       string
	DropboxAppSecret    string
	DropboxRefreshToken string
	S3Bucket            string
	S3Region            string
	S3Endpoint          string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	LinkExpiry          time.Duration

	PollInterval    time.Duration
	PollMaxInterval time.Duration
	PollMaxAttempts int
	PollTimeout     time.Duration

	RequestTimeout   time.Duration
	RetryMaxAttempts int

	HTTPReadTimeout    time.Duration
	HTTPWriteTimeout   time.Duration
	HTTPIdleTimeout    time.Duration
	ShutdownTimeout    time.Duration
	RateLimitPerMin    int
	TrustProxy         bool
	CORSAllowedOrigins []string
}

// LoadConfig loads configuration from .env files and environment variables,
// applying defaults. Service credentials are validated lazily by the Require*
// helpers since each command only talks to a subset of services.
func LoadConfig() (*Config, error) {
	for _, file := range []string{".env", ".env.local"} {
		_ = godotenv.Load(file)
	}

	cfg := &Config{
		AppEnv:      getEnv("APP_ENV", "development"),
		Port:        getEnv("PORT", "8080"),
		DatabaseURL: strings.TrimSpace(os.Getenv("DATABASE_URL")),
		OutputDir:   getEnv("OUTPUT_DIR", "./output"),

		IMSTokenURL:         getEnv("IMS_TOKEN_URL", "https://ims-na1.adobelogin.com/ims/token/v3"),
		FireflyClientID:     strings.TrimSpace(os.Getenv("CLIENT_ID")),
		FireflyClientSecret: strings.TrimSpace(os.Getenv("CLIENT_SECRET")),
		FireflyBaseURL:      getEnv("FIREFLY_BASE_URL", "https://firefly-api.adobe.io"),
		FireflyScopes:       getEnv("FIREFLY_SCOPES", "openid,AdobeID,firefly_enterprise,firefly_api,ff_apis"),

		PhotoshopClientID:     strings.TrimSpace(os.Getenv("PS_CLIENT_ID")),
		PhotoshopClientSecret: strings.TrimSpace(os.Getenv("PS_CLIENT_SECRET")),
		PhotoshopBaseURL:      getEnv("PHOTOSHOP_BASE_URL", "https://image.adobe.io"),
		PhotoshopScopes:       getEnv("PHOTOSHOP_SCOPES", "openid,AdobeID"),

		PDFClientID:     strings.TrimSpace(os.Getenv("PDF_SERVICES_CLIENT_ID")),
		PDFClientSecret: strings.TrimSpace(os.Getenv("PDF_SERVICES_CLIENT_SECRET")),
		PDFBaseURL:      getEnv("PDF_SERVICES_BASE_URL", "https://pdf-services.adobe.io"),
		PDFTokenURL:     getEnv("PDF_SERVICES_TOKEN_URL", "https://pdf-services-ue1.adobe.io/token"),

		GeminiAPIKey:  getEnv("GEMINI_API_KEY", strings.TrimSpace(os.Getenv("GEMINI_API"))),
		GeminiBaseURL: getEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),
		GeminiModel:   getEnv("GEMINI_MODEL", "gemini-1.5-flash"),

		StorageProvider:     strings.ToLower(getEnv("STORAGE_PROVIDER", "dropbox")),
		DropboxAppKey:       strings.TrimSpace(os.Getenv("DROPBOX_APP_KEY")),
		DropboxAppSecret:    strings.TrimSpace(os.Getenv("DROPBOX_APP_SECRET")),
		DropboxRefreshToken: strings.TrimSpace(os.Getenv("DROPBOX_REFRESH_TOKEN")),
		S3Bucket:            strings.TrimSpace(os.Getenv("S3_BUCKET")),
		S3Region:            getEnv("AWS_REGION", "us-east-1"),
		S3Endpoint:          strings.TrimSpace(os.Getenv("S3_ENDPOINT")),
		AWSAccessKeyID:      strings.TrimSpace(os.Getenv("AWS_ACCESS_KEY_ID")),
		AWSSecretAccessKey:  strings.TrimSpace(os.Getenv("AWS_SECRET_ACCESS_KEY")),
		LinkExpiry:          getEnvDuration("STORAGE_LINK_EXPIRY", time.Hour),

		PollInterval:    getEnvDuration("POLL_INTERVAL", 3*time.Second),
		PollMaxInterval: getEnvDuration("POLL_MAX_INTERVAL", 15*time.Second),
		PollMaxAttempts: getEnvInt("POLL_MAX_ATTEMPTS", 200),
		PollTimeout:     getEnvDuration("POLL_TIMEOUT", 15*time.Minute),

		RequestTimeout:   getEnvDuration("REQUEST_TIMEOUT", 60*time.Second),
		RetryMaxAttempts: getEnvInt("RETRY_MAX_ATTEMPTS", 4),

		HTTPReadTimeout:    time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout:   time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 120)),
		HTTPIdleTimeout:    time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		ShutdownTimeout:    getEnvDuration("SHUTDOWN_TIMEOUT", 20*time.Second),
		RateLimitPerMin:    getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
		TrustProxy:         getEnv("TRUST_PROXY", "false") == "true",
		CORSAllowedOrigins: splitList(getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000")),
	}

	if cfg.PollInterval <= 0 {
		return nil, &domain.ConfigError{Reason: "POLL_INTERVAL must be positive"}
	}
	if cfg.PollMaxInterval < cfg.PollInterval {
		cfg.PollMaxInterval = cfg.PollInterval
	}
	switch cfg.StorageProvider {
	case "dropbox", "s3":
	default:
		return nil, &domain.ConfigError{Reason: "STORAGE_PROVIDER must be dropbox or s3, got " + strconv.Quote(cfg.StorageProvider)}
	}

	return cfg, nil
}

// RequireFirefly checks the image-generation credentials.
func (c *Config) RequireFirefly() error {
	return requireAll(map[string]string{
		"CLIENT_ID":     c.FireflyClientID,
		"CLIENT_SECRET": c.FireflyClientSecret,
	}, "image generation")
}

// RequirePhotoshop checks the image-editing credentials.
func (c *Config) RequirePhotoshop() error {
	return requireAll(map[string]string{
		"PS_CLIENT_ID":     c.PhotoshopClientID,
		"PS_CLIENT_SECRET": c.PhotoshopClientSecret,
	}, "image editing")
}

// RequirePDF checks the document-generation credentials.
func (c *Config) RequirePDF() error {
	return requireAll(map[string]string{
		"PDF_SERVICES_CLIENT_ID":     c.PDFClientID,
		"PDF_SERVICES_CLIENT_SECRET": c.PDFClientSecret,
	}, "document generation")
}

// RequireGemini checks the story-writing credentials.
func (c *Config) RequireGemini() error {
	return requireAll(map[string]string{"GEMINI_API_KEY": c.GeminiAPIKey}, "story writing")
}

// RequireStorage checks the credentials of the selected storage provider.
func (c *Config) RequireStorage() error {
	if c.StorageProvider == "s3" {
		return requireAll(map[string]string{
			"S3_BUCKET":             c.S3Bucket,
			"AWS_ACCESS_KEY_ID":     c.AWSAccessKeyID,
			"AWS_SECRET_ACCESS_KEY": c.AWSSecretAccessKey,
		}, "s3 storage")
	}
	return requireAll(map[string]string{
		"DROPBOX_APP_KEY":       c.DropboxAppKey,
		"DROPBOX_APP_SECRET":    c.DropboxAppSecret,
		"DROPBOX_REFRESH_TOKEN": c.DropboxRefreshToken,
	}, "dropbox storage")
}

func requireAll(values map[string]string, reason string) error {
	var missing []string
	for _, key := range sortedKeys(values) {
		if values[key] == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return &domain.ConfigError{Missing: missing, Reason: reason}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return i
		}
	}
	return fallback
}

// getEnvDuration accepts Go duration strings ("90s") or bare seconds ("90").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return fallback
	}
	v = strings.TrimSpace(v)
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
