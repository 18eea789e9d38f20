package config

import (
	"flag"
	"io"
	"time"

	"github.com/dmitrijs2005/metta/internal/flagx"
)

var knownFlags = []string{
	"-a", "-ga", "-driver", "-d", "-s", "-t", "-r", "-rt", "-redis",
	"-u", "-p", "-b", "-g", "-e", "-l",
}

// parseFlags populates Config fields from command-line flags.
//
// Supported flags:
//
//	-a string       HTTP bind address (e.g. ":8080")
//	-ga string      gRPC bind address (e.g. ":50051")
//	-driver string  database driver, pgx or sqlite
//	-d string       database DSN
//	-s string       JWT HMAC secret key
//	-t int          access token validity, minutes
//	-r int          refresh token validity, minutes
//	-rt int         password reset token validity, minutes
//	-redis string   Redis URL
//	-u, -p string   S3 root user / password
//	-b string       S3 bucket name
//	-g string       S3 region
//	-e string       S3 base endpoint
//	-l string       log level
//
// Arguments are filtered with flagx.FilterArgs first, so flags meant for
// other layers (-c, -env-file) do not break parsing.
func parseFlags(config *Config, args []string) {
	args = flagx.FilterArgs(args, knownFlags)

	fs := flag.NewFlagSet("metta", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&config.EndpointAddrHTTP, "a", config.EndpointAddrHTTP, "HTTP address and port")
	fs.StringVar(&config.EndpointAddrGRPC, "ga", config.EndpointAddrGRPC, "gRPC address and port")
	fs.StringVar(&config.DatabaseDriver, "driver", config.DatabaseDriver, "database driver (pgx|sqlite)")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "secret key")

	accessTokenValidity := fs.Int("t", int(config.AccessTokenValidityDuration.Minutes()), "access token validity (in minutes)")
	refreshTokenValidity := fs.Int("r", int(config.RefreshTokenValidityDuration.Minutes()), "refresh token validity (in minutes)")
	resetTokenValidity := fs.Int("rt", int(config.ResetTokenValidityDuration.Minutes()), "reset token validity (in minutes)")

	fs.StringVar(&config.RedisURL, "redis", config.RedisURL, "Redis URL")
	fs.StringVar(&config.S3RootUser, "u", config.S3RootUser, "S3 root user")
	fs.StringVar(&config.S3RootPassword, "p", config.S3RootPassword, "S3 root password")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 bucket")
	fs.StringVar(&config.S3Region, "g", config.S3Region, "S3 region")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")
	fs.StringVar(&config.LogLevel, "l", config.LogLevel, "log level (debug|info|warn|error)")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	// Only touch durations that were given, so sub-minute values from
	// earlier layers survive.
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "t":
			config.AccessTokenValidityDuration = time.Duration(*accessTokenValidity) * time.Minute
		case "r":
			config.RefreshTokenValidityDuration = time.Duration(*refreshTokenValidity) * time.Minute
		case "rt":
			config.ResetTokenValidityDuration = time.Duration(*resetTokenValidity) * time.Minute
		}
	})
}
