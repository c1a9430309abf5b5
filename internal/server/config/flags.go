package config

import (
	"flag"
	"os"

	"github.com/dmitrijs2005/llmgate/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   gRPC bind address (e.g., ":50051")
//	-l string   HTTP bind address (e.g., ":8080")
//	-d string   PostgreSQL DSN
//	-s string   JWT HMAC secret key
//	-t duration dispatch timeout (e.g., "30s")
//	-n int      history limit
//	-r int      requests per minute per user
//	-b string   S3 bucket name
//	-e string   S3 base endpoint (e.g., "http://127.0.0.1:9000/")
//	-x int      archive threshold in bytes
//	-v string   log level
//
// The function first filters os.Args to the flags it recognizes using
// flagx.FilterArgs, so -c/-config and unknown flags do not collide.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-l", "-d", "-s", "-t", "-n", "-r", "-b", "-e", "-x", "-v"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.EndpointAddrGRPC, "a", config.EndpointAddrGRPC, "gRPC address and port")
	fs.StringVar(&config.EndpointAddrHTTP, "l", config.EndpointAddrHTTP, "HTTP address and port")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "secret key")
	fs.DurationVar(&config.DispatchTimeout, "t", config.DispatchTimeout, "dispatch timeout")
	fs.IntVar(&config.HistoryLimit, "n", config.HistoryLimit, "history messages sent with a prompt")
	fs.IntVar(&config.RequestsPerMinute, "r", config.RequestsPerMinute, "completion requests per minute per user")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 bucket")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")
	fs.IntVar(&config.ArchiveThreshold, "x", config.ArchiveThreshold, "archive replies longer than this many bytes")
	fs.StringVar(&config.LogLevel, "v", config.LogLevel, "log level")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}
}
