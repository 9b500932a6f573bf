package app

import (
	"strings"

	"github.com/macroscope/macroscope/internal/database"
	"github.com/macroscope/macroscope/internal/storage"
)

// StorageBuckets lists the buckets every backend must serve.
var StorageBuckets = []string{storage.BucketProfilePictures, storage.BucketProjectFiles}

// OpenConfig converts StorageConfig into storage.Config. Profile pictures are public;
// project files are only reachable through signed links.
func (c StorageConfig) OpenConfig(publicURL string) storage.Config {
	return storage.Config{
		Backend: strings.ToLower(strings.TrimSpace(c.Backend)),
		Local: storage.LocalConfig{
			Root:          strings.TrimSpace(c.Local.Path),
			BaseURL:       strings.TrimRight(strings.TrimSpace(publicURL), "/"),
			SigningSecret: c.Local.SigningSecret,
			Buckets:       StorageBuckets,
			PublicBuckets: []string{storage.BucketProfilePictures},
		},
		S3: storage.S3Config{
			Region:          strings.TrimSpace(c.S3.Region),
			Bucket:          strings.TrimSpace(c.S3.Bucket),
			Prefix:          strings.Trim(strings.TrimSpace(c.S3.Prefix), "/"),
			Endpoint:        strings.TrimSpace(c.S3.Endpoint),
			AccessKeyID:     c.S3.AccessKeyID,
			SecretAccessKey: c.S3.SecretAccessKey,
			PublicBaseURL:   strings.TrimSpace(c.S3.PublicBaseURL),
			UsePathStyle:    c.S3.UsePathStyle,
			Buckets:         StorageBuckets,
		},
	}
}

// IsLocal reports whether objects are kept on the local filesystem.
func (c StorageConfig) IsLocal() bool {
	backend := strings.ToLower(strings.TrimSpace(c.Backend))
	return backend == "" || backend == "local"
}

// OpenConfig converts DatabaseConfig into database.Config.
func (c DatabaseConfig) OpenConfig() database.Config {
	dbCfg := database.Config{
		Driver: strings.ToLower(strings.TrimSpace(c.Driver)),
		Path:   strings.TrimSpace(c.Path),
		DSN:    strings.TrimSpace(c.DSN),
	}

	switch dbCfg.Driver {
	case "", "sqlite":
		dbCfg.Driver = "sqlite"
	case "postgres", "postgresql":
		dbCfg.Driver = "postgres"
		dbCfg.Host = strings.TrimSpace(c.Postgres.Host)
		dbCfg.Port = c.Postgres.Port
		dbCfg.Name = strings.TrimSpace(c.Postgres.Database)
		dbCfg.User = strings.TrimSpace(c.Postgres.Username)
		dbCfg.Password = strings.TrimSpace(c.Postgres.Password)
	case "mysql":
		dbCfg.Host = strings.TrimSpace(c.MySQL.Host)
		dbCfg.Port = c.MySQL.Port
		dbCfg.Name = strings.TrimSpace(c.MySQL.Database)
		dbCfg.User = strings.TrimSpace(c.MySQL.Username)
		dbCfg.Password = strings.TrimSpace(c.MySQL.Password)
	default:
		// Leave driver as-is to surface unsupported driver error during open.
	}

	return dbCfg
}
