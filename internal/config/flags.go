package config

import (
	"flag"
	"os"
	"time"

	"github.com/dmitrijs2005/fsmirror/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   HTTP bind address (e.g., ":8080")
//	-d string   PostgreSQL DSN
//	-s string   JWT HMAC secret key
//	-k string   Gemini API key
//	-r string   Gemini API base URL
//	-o string   cache backend ("disk" or "s3")
//	-f string   disk cache root directory
//	-m string   upload MIME overrides ("ext:mime,...")
//	-n int      upload batch size
//	-i int      poll interval, seconds
//	-t int      max poll attempts per operation
//	-u string   S3 root user
//	-p string   S3 root password
//	-b string   S3 bucket name
//	-g string   S3 region
//	-e string   S3 base endpoint (e.g., "http://127.0.0.1:9000/")
//	-l string   rotating log file path
//
// Notes:
//   - The function first filters os.Args to only the flags it recognizes using
//     flagx.FilterArgs, avoiding collisions with other components.
//   - The poll interval flag is accepted as an integer in seconds and then
//     converted to a time.Duration value.
func parseFlags(config *Config) {
	// Filter args to include only the flags handled here.
	args := flagx.FilterArgs(os.Args[1:], []string{
		"-a", "-d", "-s", "-k", "-r", "-o", "-f", "-m", "-n", "-i", "-t",
		"-u", "-p", "-b", "-g", "-e", "-l",
	})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.Addr, "a", config.Addr, "address and port to run server")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "secret key")
	fs.StringVar(&config.GeminiAPIKey, "k", config.GeminiAPIKey, "Gemini API key")
	fs.StringVar(&config.GeminiBaseURL, "r", config.GeminiBaseURL, "Gemini API base URL")
	fs.StringVar(&config.CacheBackend, "o", config.CacheBackend, "cache backend (disk or s3)")
	fs.StringVar(&config.CacheDir, "f", config.CacheDir, "disk cache root directory")
	fs.StringVar(&config.UploadMimeTypes, "m", config.UploadMimeTypes, "upload MIME overrides, ext:mime pairs")
	fs.IntVar(&config.UploadBatchSize, "n", config.UploadBatchSize, "upload batch size")

	pollInterval := fs.Int("i", int(config.PollInterval.Seconds()), "poll_interval (in seconds)")

	fs.IntVar(&config.MaxPollAttempts, "t", config.MaxPollAttempts, "max poll attempts per operation")

	fs.StringVar(&config.S3RootUser, "u", config.S3RootUser, "S3 root user")
	fs.StringVar(&config.S3RootPassword, "p", config.S3RootPassword, "S3 root password")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 root bucket")
	fs.StringVar(&config.S3Region, "g", config.S3Region, "S3 root region")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")

	fs.StringVar(&config.LogFile, "l", config.LogFile, "rotating log file path")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.PollInterval = time.Duration(*pollInterval) * time.Second
}
