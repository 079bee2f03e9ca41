// Package config loads service configuration from BIOINDEX_* environment
// variables, with an optional env file.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds everything the retrieval engine needs to reach its backends
// and bound its responses.
type Config struct {
	// S3Bucket holds the pre-built index objects. Required for commands
	// that read records.
	S3Bucket string

	// S3Prefix optionally scopes all object paths within the bucket.
	S3Prefix string

	// Driver selects the key database driver: "mysql" or "sqlite".
	Driver string

	// DSN is the key database connection string.
	DSN string

	// ResponseLimit is the per-page response byte budget.
	ResponseLimit int64

	// MatchLimit is the per-page key cap for match listings.
	MatchLimit int

	// ContinuationTTL is the expiry window for unredeemed continuations.
	ContinuationTTL time.Duration

	// Fanout bounds the worker pool for multi-query fetches.
	Fanout int
}

// Load reads configuration from the environment. When envFile is non-empty
// it is read first and the environment overrides it.
func Load(envFile string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("bioindex")
	v.AutomaticEnv()

	v.SetDefault("s3_bucket", "")
	v.SetDefault("s3_prefix", "")
	v.SetDefault("driver", "mysql")
	v.SetDefault("dsn", "")
	v.SetDefault("response_limit", int64(1<<20))
	v.SetDefault("match_limit", 5000)
	v.SetDefault("continuation_ttl", "5m")
	v.SetDefault("fanout", 20)

	if envFile != "" {
		v.SetConfigFile(envFile)
		v.SetConfigType("env")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", envFile, err)
		}
	}

	ttl, err := time.ParseDuration(v.GetString("continuation_ttl"))
	if err != nil {
		return nil, fmt.Errorf("config: bad continuation_ttl: %w", err)
	}

	return &Config{
		S3Bucket:        v.GetString("s3_bucket"),
		S3Prefix:        v.GetString("s3_prefix"),
		Driver:          v.GetString("driver"),
		DSN:             v.GetString("dsn"),
		ResponseLimit:   v.GetInt64("response_limit"),
		MatchLimit:      v.GetInt("match_limit"),
		ContinuationTTL: ttl,
		Fanout:          v.GetInt("fanout"),
	}, nil
}
