package app

import (
	"time"

	"github.com/yungbote/chorus-backend/internal/ingestion/preview"
	"github.com/yungbote/chorus-backend/internal/modules/chat/steps"
	"github.com/yungbote/chorus-backend/internal/platform/envutil"
	"github.com/yungbote/chorus-backend/internal/platform/logger"
)

type Config struct {
	HTTPAddr    string
	ServiceName string
	Environment string

	JWTSecretKey   string
	AccessTokenTTL time.Duration

	MaxSteps       int
	HistoryLimit   int
	GenerateTitles bool
	TitleTimeout   time.Duration

	McpCallTimeout  time.Duration
	PreviewMaxBytes int64
	PreviewMaxChars int
	// PreviewURLPrefixes limits which http(s) attachment URLs are fetched.
	PreviewURLPrefixes []string
	MetricsAddr        string
}

func LoadConfig(log *logger.Logger) Config {
	cfg := Config{
		HTTPAddr:    envutil.String("HTTP_ADDR", ":8080"),
		ServiceName: envutil.String("OTEL_SERVICE_NAME", "chorus-backend"),
		Environment: envutil.String("APP_ENV", "development"),

		JWTSecretKey:   envutil.String("JWT_SECRET_KEY", ""),
		AccessTokenTTL: envutil.Duration("ACCESS_TOKEN_TTL", time.Hour),

		MaxSteps:       envutil.Int("CHAT_MAX_STEPS", steps.DefaultMaxSteps),
		HistoryLimit:   envutil.Int("CHAT_HISTORY_LIMIT", steps.DefaultHistoryLimit),
		GenerateTitles: envutil.Bool("CHAT_GENERATE_TITLES", true),
		TitleTimeout:   envutil.Duration("CHAT_TITLE_TIMEOUT", 20*time.Second),

		McpCallTimeout:  envutil.Duration("MCP_CALL_TIMEOUT", 60*time.Second),
		PreviewMaxBytes: int64(envutil.Int("PREVIEW_MAX_BYTES", preview.DefaultMaxBytes)),
		PreviewMaxChars: envutil.Int("PREVIEW_MAX_CHARS", preview.DefaultMaxChars),
		MetricsAddr:     envutil.String("METRICS_ADDR", ""),

		PreviewURLPrefixes: envutil.List("PREVIEW_ALLOWED_URL_PREFIXES", defaultPreviewURLPrefixes()),
	}
	if cfg.JWTSecretKey == "" {
		log.Warn("JWT_SECRET_KEY not set; every authenticated route will reject requests")
	}
	return cfg
}

// defaultPreviewURLPrefixes admits the public URLs of the attachment bucket.
func defaultPreviewURLPrefixes() []string {
	if base := envutil.String("GCS_PUBLIC_BASE_URL", ""); base != "" {
		return []string{base}
	}
	if bucket := envutil.String("GCS_ATTACHMENT_BUCKET", ""); bucket != "" {
		return []string{"https://storage.googleapis.com/" + bucket}
	}
	return nil
}
