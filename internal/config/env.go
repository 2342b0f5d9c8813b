package config

import (
	"os"
	"strconv"
	"time"
)

// parseEnv overlays Config with values from environment variables. Unset
// variables leave the current value in place, so the function can run after
// the JSON pass without erasing it.
//
// Recognized variables:
//
//	ADDRESS                   HTTP bind address
//	DATABASE_DSN              PostgreSQL DSN
//	SECRET_KEY                JWT HMAC secret
//	GEMINI_API_KEY            Gemini API key
//	GEMINI_BASE_URL           Gemini API host
//	GEMINI_UPLOAD_MIME_TYPES  "ext:mime,..." upload overrides
//	CACHE_BACKEND             "disk" or "s3"
//	CACHE_DIR                 disk cache root
//	UPLOAD_BATCH_SIZE         int
//	POLL_INTERVAL             duration string, e.g. "5s"
//	MAX_POLL_ATTEMPTS         int
//	S3_ROOT_USER / S3_ROOT_PASSWORD / S3_BUCKET / S3_REGION / S3_BASE_ENDPOINT
//	LOG_FILE                  rotating log file path
//
// Numeric and duration variables panic when malformed, consistent with the
// JSON and flag passes.
func parseEnv(cfg *Config) {
	setString := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}

	setString("ADDRESS", &cfg.Addr)
	setString("DATABASE_DSN", &cfg.DatabaseDSN)
	setString("SECRET_KEY", &cfg.SecretKey)
	setString("GEMINI_API_KEY", &cfg.GeminiAPIKey)
	setString("GEMINI_BASE_URL", &cfg.GeminiBaseURL)
	setString("GEMINI_UPLOAD_MIME_TYPES", &cfg.UploadMimeTypes)
	setString("CACHE_BACKEND", &cfg.CacheBackend)
	setString("CACHE_DIR", &cfg.CacheDir)
	setString("S3_ROOT_USER", &cfg.S3RootUser)
	setString("S3_ROOT_PASSWORD", &cfg.S3RootPassword)
	setString("S3_BUCKET", &cfg.S3Bucket)
	setString("S3_REGION", &cfg.S3Region)
	setString("S3_BASE_ENDPOINT", &cfg.S3BaseEndpoint)
	setString("LOG_FILE", &cfg.LogFile)

	if v, ok := os.LookupEnv("UPLOAD_BATCH_SIZE"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			panic(err)
		}
		cfg.UploadBatchSize = n
	}

	if v, ok := os.LookupEnv("POLL_INTERVAL"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			panic(err)
		}
		cfg.PollInterval = d
	}

	if v, ok := os.LookupEnv("MAX_POLL_ATTEMPTS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			panic(err)
		}
		cfg.MaxPollAttempts = n
	}
}
