package config

import (
	"flag"
	"os"
	"time"

	"github.com/flashstacks/flashstacks/internal/flagx"
)

// parseFlags populates selected server Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   HTTP bind address (e.g., ":8080")
//	-d string   PostgreSQL DSN
//	-s string   cookie HMAC secret key
//	-t int      session cookie validity, minutes
//	-p string   PDS base URL
//	-j string   change stream websocket URL
//	-i string   OAuth client id
//	-u string   OAuth redirect URI
//	-z string   OAuth authorize endpoint
//	-k string   OAuth token endpoint
//
// The function first filters os.Args to only the flags it recognizes using
// flagx.FilterArgs, avoiding collisions with other components.
func parseFlags(config *Config) {
	// Filter args to include only the flags handled here.
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-d", "-s", "-t", "-p", "-j", "-i", "-u", "-z", "-k"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.EndpointAddr, "a", config.EndpointAddr, "address and port to run server")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "secret key")

	sessionTTL := fs.Int("t", int(config.SessionTTL.Minutes()), "session_ttl (in minutes)")

	fs.StringVar(&config.PDSBaseURL, "p", config.PDSBaseURL, "PDS base URL")
	fs.StringVar(&config.JetstreamURL, "j", config.JetstreamURL, "change stream websocket URL")
	fs.StringVar(&config.OAuthClientID, "i", config.OAuthClientID, "OAuth client id")
	fs.StringVar(&config.OAuthRedirectURI, "u", config.OAuthRedirectURI, "OAuth redirect URI")
	fs.StringVar(&config.OAuthAuthorizeURL, "z", config.OAuthAuthorizeURL, "OAuth authorize endpoint")
	fs.StringVar(&config.OAuthTokenURL, "k", config.OAuthTokenURL, "OAuth token endpoint")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.SessionTTL = time.Duration(*sessionTTL) * time.Minute
}
