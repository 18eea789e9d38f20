package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/dmitrijs2005/metta/internal/flagx"
	"github.com/joho/godotenv"
)

// EnvPrefix prefixes every environment variable read by parseEnv.
const EnvPrefix = "METTA_"

const defaultEnvFile = ".env"

// parseEnv loads variables from a .env file into the process environment and
// then copies every set METTA_* variable into config.
//
// The file is taken from -env-file; without it ".env" in the working
// directory is used when present. Variables already set in the environment
// are never overwritten by the file. An explicitly named file that cannot be
// loaded, or a malformed duration, panics like an unreadable JSON config.
func parseEnv(config *Config, args []string) {
	envFile := flagx.StringFlag(args, "env-file")
	explicit := envFile != ""
	if !explicit {
		envFile = defaultEnvFile
	}

	if err := godotenv.Load(envFile); err != nil {
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			panic(err)
		}
	}

	strs := map[string]*string{
		"HTTP_ADDR":        &config.EndpointAddrHTTP,
		"GRPC_ADDR":        &config.EndpointAddrGRPC,
		"DB_DRIVER":        &config.DatabaseDriver,
		"DATABASE_DSN":     &config.DatabaseDSN,
		"SECRET_KEY":       &config.SecretKey,
		"REDIS_URL":        &config.RedisURL,
		"S3_ROOT_USER":     &config.S3RootUser,
		"S3_ROOT_PASSWORD": &config.S3RootPassword,
		"S3_BUCKET":        &config.S3Bucket,
		"S3_REGION":        &config.S3Region,
		"S3_BASE_ENDPOINT": &config.S3BaseEndpoint,
		"LOG_LEVEL":        &config.LogLevel,
	}
	for name, dst := range strs {
		if v, ok := os.LookupEnv(EnvPrefix + name); ok {
			*dst = v
		}
	}

	durations := map[string]*time.Duration{
		"ACCESS_TOKEN_TTL":  &config.AccessTokenValidityDuration,
		"REFRESH_TOKEN_TTL": &config.RefreshTokenValidityDuration,
		"RESET_TOKEN_TTL":   &config.ResetTokenValidityDuration,
	}
	for name, dst := range durations {
		v, ok := os.LookupEnv(EnvPrefix + name)
		if !ok {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			panic(fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
		}
		*dst = d
	}
}
