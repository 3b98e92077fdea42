package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dmitrijs2005/secretvault/internal/flagx"
	"github.com/dmitrijs2005/secretvault/internal/timex"
)

// FileConfig is the on-disk shape of the configuration. Durations use
// timex.Duration so both "30s" and integer nanoseconds are accepted.
// Zero values leave the corresponding Config field untouched.
type FileConfig struct {
	DatabaseDSN        string         `json:"database_dsn" yaml:"database_dsn"`
	KDFIterations      int            `json:"kdf_iterations" yaml:"kdf_iterations"`
	KDFMaxIterations   int            `json:"kdf_max_iterations" yaml:"kdf_max_iterations"`
	MaxFailedAttempts  int            `json:"max_failed_attempts" yaml:"max_failed_attempts"`
	OperationTimeout   timex.Duration `json:"operation_timeout" yaml:"operation_timeout"`
	LogLevel           string         `json:"log_level" yaml:"log_level"`
	S3RootUser         string         `json:"s3_root_user" yaml:"s3_root_user"`
	S3RootPassword     string         `json:"s3_root_password" yaml:"s3_root_password"`
	S3Bucket           string         `json:"s3_bucket" yaml:"s3_bucket"`
	S3Region           string         `json:"s3_region" yaml:"s3_region"`
	S3BaseEndpoint     string         `json:"s3_base_endpoint" yaml:"s3_base_endpoint"`
	AuditArchivePrefix string         `json:"audit_archive_prefix" yaml:"audit_archive_prefix"`
}

// parseFile loads the file named by -c/-config into config.
// Files ending in .yaml or .yml are decoded as YAML, anything else as JSON.
// Without the flag nothing is loaded. An unreadable or malformed file panics.
func parseFile(config *Config) {
	path := flagx.ConfigFile(os.Args[1:])
	if path == "" {
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		panic(err)
	}

	c := &FileConfig{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, c)
	default:
		err = json.Unmarshal(data, c)
	}
	if err != nil {
		panic(err)
	}

	c.apply(config)
}

func (c *FileConfig) apply(config *Config) {
	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setInt(&config.KDFIterations, c.KDFIterations)
	setInt(&config.KDFMaxIterations, c.KDFMaxIterations)
	setInt(&config.MaxFailedAttempts, c.MaxFailedAttempts)
	if c.OperationTimeout.Duration != 0 {
		config.OperationTimeout = c.OperationTimeout.Duration
	}
	setString(&config.LogLevel, c.LogLevel)
	setString(&config.S3RootUser, c.S3RootUser)
	setString(&config.S3RootPassword, c.S3RootPassword)
	setString(&config.S3Bucket, c.S3Bucket)
	setString(&config.S3Region, c.S3Region)
	setString(&config.S3BaseEndpoint, c.S3BaseEndpoint)
	setString(&config.AuditArchivePrefix, c.AuditArchivePrefix)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}
