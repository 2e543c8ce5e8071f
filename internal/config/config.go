// Package config loads process configuration from the environment.
package config

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"

	"creaturecore/internal/blob"
)

// Storage drivers accepted by CREATURECORE_STORAGE_DRIVER.
const (
	StorageMemory   = "memory"
	StorageSQLite   = "sqlite"
	StoragePostgres = "postgres"
)

// Config is the full process configuration.
type Config struct {
	StorageDriver string `env:"CREATURECORE_STORAGE_DRIVER" envDefault:"sqlite"`
	SQLitePath    string `env:"CREATURECORE_SQLITE_PATH"    envDefault:"creaturecore.db"`
	PostgresDSN   string `env:"CREATURECORE_POSTGRES_DSN"`

	BlobDriver string `env:"CREATURECORE_BLOB_DRIVER"  envDefault:"fs"`
	BlobFSRoot string `env:"CREATURECORE_BLOB_FS_ROOT" envDefault:"./blobdata"`
	S3         S3     `envPrefix:"CREATURECORE_BLOB_S3_"`

	CreationStake uint64 `env:"CREATURECORE_CREATION_STAKE" envDefault:"5000"`
	BeaconSeed    string `env:"CREATURECORE_BEACON_SEED"    envDefault:"creaturecore"`
	LogLevel      string `env:"CREATURECORE_LOG_LEVEL"      envDefault:"info"`
}

// S3 holds the S3 blob driver settings.
type S3 struct {
	Bucket          string `env:"BUCKET"`
	Region          string `env:"REGION"     envDefault:"us-east-1"`
	Endpoint        string `env:"ENDPOINT"`
	PathStyle       bool   `env:"PATH_STYLE"`
	AccessKeyID     string `env:"ACCESS_KEY_ID"`
	SecretAccessKey string `env:"SECRET_ACCESS_KEY"`
	SessionToken    string `env:"SESSION_TOKEN"`
}

// Load parses the process environment.
func Load() (Config, error) {
	return parse(env.Options{})
}

// LoadFrom parses the supplied variables instead of the process environment.
func LoadFrom(vars map[string]string) (Config, error) {
	return parse(env.Options{Environment: vars})
}

func parse(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.StorageDriver = strings.ToLower(strings.TrimSpace(cfg.StorageDriver))
	cfg.BlobDriver = strings.ToLower(strings.TrimSpace(cfg.BlobDriver))
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks enumerated values and driver prerequisites.
func (c Config) Validate() error {
	switch strings.ToLower(c.StorageDriver) {
	case StorageMemory, StorageSQLite, StoragePostgres:
	default:
		return fmt.Errorf("unknown storage driver %q", c.StorageDriver)
	}
	switch blob.Driver(strings.ToLower(c.BlobDriver)) {
	case blob.DriverFilesystem, blob.DriverMemory:
	case blob.DriverS3:
		if c.S3.Bucket == "" {
			return fmt.Errorf("CREATURECORE_BLOB_S3_BUCKET required for s3 blob driver")
		}
	default:
		return fmt.Errorf("unknown blob driver %q", c.BlobDriver)
	}
	return nil
}

// Blob converts the blob settings for blob.Open.
func (c Config) Blob() blob.Config {
	return blob.Config{
		Driver: blob.Driver(strings.ToLower(c.BlobDriver)),
		FSRoot: c.BlobFSRoot,
		S3: blob.S3Config{
			Bucket:          c.S3.Bucket,
			Region:          c.S3.Region,
			Endpoint:        c.S3.Endpoint,
			PathStyle:       c.S3.PathStyle,
			AccessKeyID:     c.S3.AccessKeyID,
			SecretAccessKey: c.S3.SecretAccessKey,
			SessionToken:    c.S3.SessionToken,
		},
	}
}
