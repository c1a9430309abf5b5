package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/llmgate/internal/flagx"
	"github.com/dmitrijs2005/llmgate/internal/timex"
)

// JsonConfig is the on-disk shape of the configuration file. Durations
// use timex.Duration so both "30s" and integer nanoseconds are accepted.
// Fields left out of the file keep their current values.
type JsonConfig struct {
	EndpointAddrGRPC  string         `json:"endpoint_addr_grpc"`
	EndpointAddrHTTP  string         `json:"endpoint_addr_http"`
	DatabaseDSN       string         `json:"database_dsn"`
	SecretKey         string         `json:"secret_key"`
	DispatchTimeout   timex.Duration `json:"dispatch_timeout"`
	HistoryLimit      *int           `json:"history_limit"`
	RequestsPerMinute *int           `json:"requests_per_minute"`
	RequestBurst      *int           `json:"request_burst"`
	OpenAIBaseURL     string         `json:"openai_base_url"`
	OpenAIAPIKey      string         `json:"openai_api_key"`
	AnthropicBaseURL  string         `json:"anthropic_base_url"`
	AnthropicAPIKey   string         `json:"anthropic_api_key"`
	OpenRouterBaseURL string         `json:"openrouter_base_url"`
	OpenRouterAPIKey  string         `json:"openrouter_api_key"`
	S3AccessKey       string         `json:"s3_access_key"`
	S3SecretKey       string         `json:"s3_secret_key"`
	S3Bucket          string         `json:"s3_bucket"`
	S3Region          string         `json:"s3_region"`
	S3BaseEndpoint    string         `json:"s3_base_endpoint"`
	ArchiveThreshold  *int           `json:"archive_threshold"`
	LogLevel          string         `json:"log_level"`
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

// parseJson loads the file named by -c or -config into config. Without
// the flag nothing is loaded. An unreadable file or invalid JSON panics.
func parseJson(config *Config) {

	jsonConfigFile := flagx.ConfigFile()

	// nothing to load
	if jsonConfigFile == "" {
		return
	}

	c := &JsonConfig{}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	err = json.Unmarshal(file, c)
	if err != nil {
		panic(err)
	}

	setString(&config.EndpointAddrGRPC, c.EndpointAddrGRPC)
	setString(&config.EndpointAddrHTTP, c.EndpointAddrHTTP)
	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.SecretKey, c.SecretKey)
	if c.DispatchTimeout.Duration > 0 {
		config.DispatchTimeout = c.DispatchTimeout.Duration
	}
	setInt(&config.HistoryLimit, c.HistoryLimit)
	setInt(&config.RequestsPerMinute, c.RequestsPerMinute)
	setInt(&config.RequestBurst, c.RequestBurst)
	setString(&config.OpenAIBaseURL, c.OpenAIBaseURL)
	setString(&config.OpenAIAPIKey, c.OpenAIAPIKey)
	setString(&config.AnthropicBaseURL, c.AnthropicBaseURL)
	setString(&config.AnthropicAPIKey, c.AnthropicAPIKey)
	setString(&config.OpenRouterBaseURL, c.OpenRouterBaseURL)
	setString(&config.OpenRouterAPIKey, c.OpenRouterAPIKey)
	setString(&config.S3AccessKey, c.S3AccessKey)
	setString(&config.S3SecretKey, c.S3SecretKey)
	setString(&config.S3Bucket, c.S3Bucket)
	setString(&config.S3Region, c.S3Region)
	setString(&config.S3BaseEndpoint, c.S3BaseEndpoint)
	setInt(&config.ArchiveThreshold, c.ArchiveThreshold)
	setString(&config.LogLevel, c.LogLevel)
}
