package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/dmitrijs2005/fsmirror/internal/flagx"
	"github.com/dmitrijs2005/fsmirror/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling.
// It relies on timex.Duration so JSON can specify intervals either as
// strings like "5s" or as integer nanoseconds. After parsing, values
// are copied into the runtime Config (which uses time.Duration).
type JsonConfig struct {
	Addr            string         `json:"address"`
	DatabaseDSN     string         `json:"database_dsn"`
	SecretKey       string         `json:"secret_key"`
	GeminiAPIKey    string         `json:"gemini_api_key"`
	GeminiBaseURL   string         `json:"gemini_base_url"`
	CacheBackend    string         `json:"cache_backend"`
	CacheDir        string         `json:"cache_dir"`
	UploadMimeTypes string         `json:"upload_mime_types"`
	UploadBatchSize int            `json:"upload_batch_size"`
	PollInterval    timex.Duration `json:"poll_interval"`
	MaxPollAttempts int            `json:"max_poll_attempts"`
	S3RootUser      string         `json:"s3_root_user"`
	S3RootPassword  string         `json:"s3_root_password"`
	S3Bucket        string         `json:"s3_bucket"`
	S3Region        string         `json:"s3_region"`
	S3BaseEndpoint  string         `json:"s3_base_endpoint"`
	LogFile         string         `json:"log_file"`
}

// parseJson overlays Config with values loaded from a JSON file.
//
// Lookup order for the JSON file path:
//  1. Command-line flags (-c or -config) via flagx.JsonConfigFlags().
//  2. If empty, no JSON is loaded and the function returns.
//
// Behavior:
//   - Reads and unmarshals the JSON into JsonConfig.
//   - Copies fields present in the file into the provided Config; fields the
//     file omits keep their current values.
//   - Panics on read or unmarshal errors (caller should recover if desired).
//
// Intended usage is: defaults -> parseJson -> parseEnv -> parseFlags, where
// later stages override earlier ones.
func parseJson(cfg *Config) {
	// Resolve file path from flags.
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	var jc JsonConfig

	data, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}
	if err := json.Unmarshal(data, &jc); err != nil {
		panic(err)
	}

	if jc.Addr != "" {
		cfg.Addr = jc.Addr
	}
	if jc.DatabaseDSN != "" {
		cfg.DatabaseDSN = jc.DatabaseDSN
	}
	if jc.SecretKey != "" {
		cfg.SecretKey = jc.SecretKey
	}
	if jc.GeminiAPIKey != "" {
		cfg.GeminiAPIKey = jc.GeminiAPIKey
	}
	if jc.GeminiBaseURL != "" {
		cfg.GeminiBaseURL = jc.GeminiBaseURL
	}
	if jc.CacheBackend != "" {
		cfg.CacheBackend = jc.CacheBackend
	}
	if jc.CacheDir != "" {
		cfg.CacheDir = jc.CacheDir
	}
	if jc.UploadMimeTypes != "" {
		cfg.UploadMimeTypes = jc.UploadMimeTypes
	}
	if jc.UploadBatchSize != 0 {
		cfg.UploadBatchSize = jc.UploadBatchSize
	}
	if jc.PollInterval.Duration != 0 {
		cfg.PollInterval = time.Duration(jc.PollInterval.Duration)
	}
	if jc.MaxPollAttempts != 0 {
		cfg.MaxPollAttempts = jc.MaxPollAttempts
	}
	if jc.S3RootUser != "" {
		cfg.S3RootUser = jc.S3RootUser
	}
	if jc.S3RootPassword != "" {
		cfg.S3RootPassword = jc.S3RootPassword
	}
	if jc.S3Bucket != "" {
		cfg.S3Bucket = jc.S3Bucket
	}
	if jc.S3Region != "" {
		cfg.S3Region = jc.S3Region
	}
	if jc.S3BaseEndpoint != "" {
		cfg.S3BaseEndpoint = jc.S3BaseEndpoint
	}
	if jc.LogFile != "" {
		cfg.LogFile = jc.LogFile
	}
}
