package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/flashstacks/flashstacks/internal/flagx"
	"github.com/flashstacks/flashstacks/internal/timex"
)

// JsonConfig defines a configuration structure tailored for JSON
// unmarshalling. It uses timex.Duration for interval fields, which allows
// parsing both string values such as "24h" and integer nanoseconds.
//
// This struct is an intermediate DTO used only for reading JSON
// configuration files. After unmarshalling, its fields are copied into the
// runtime Config struct which uses time.Duration.
type JsonConfig struct {
	EndpointAddr      string         `json:"endpoint_addr"`
	DatabaseDSN       string         `json:"database_dsn"`
	SecretKey         string         `json:"secret_key"`
	SessionTTL        timex.Duration `json:"session_ttl"`
	PDSBaseURL        string         `json:"pds_base_url"`
	JetstreamURL      string         `json:"jetstream_url"`
	OAuthClientID     string         `json:"oauth_client_id"`
	OAuthRedirectURI  string         `json:"oauth_redirect_uri"`
	OAuthAuthorizeURL string         `json:"oauth_authorize_url"`
	OAuthTokenURL     string         `json:"oauth_token_url"`
	CloneMaxRetries   uint64         `json:"clone_max_retries"`
	CloneBackoff      timex.Duration `json:"clone_backoff"`
}

// parseJson loads configuration values from a JSON file into the provided
// Config instance.
//
// The lookup order for the JSON file path is:
//
//	The -c or -config command-line flags.
//	If it is not set, no JSON file is loaded.
//
// If the file cannot be read or contains invalid JSON, the function panics.
// The caller is expected to merge these values with defaults and
// command-line flags as part of the full configuration process.
func parseJson(config *Config) {
	// try flags
	jsonConfigFile := flagx.JsonConfigFlags()

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

	config.EndpointAddr = c.EndpointAddr
	config.DatabaseDSN = c.DatabaseDSN
	config.SecretKey = c.SecretKey
	config.SessionTTL = time.Duration(c.SessionTTL.Duration)
	config.PDSBaseURL = c.PDSBaseURL
	config.JetstreamURL = c.JetstreamURL
	config.OAuthClientID = c.OAuthClientID
	config.OAuthRedirectURI = c.OAuthRedirectURI
	config.OAuthAuthorizeURL = c.OAuthAuthorizeURL
	config.OAuthTokenURL = c.OAuthTokenURL
	config.CloneMaxRetries = c.CloneMaxRetries
	config.CloneBackoff = time.Duration(c.CloneBackoff.Duration)
}
