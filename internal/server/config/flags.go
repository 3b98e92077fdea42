package config

import (
	"flag"
	"os"
	"time"

	"github.com/dmitrijs2005/secretvault/internal/flagx"
)

// parseFlags populates Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-d string   PostgreSQL DSN
//	-i int      KDF iterations for new keys
//	-m int      maximum accepted KDF iterations
//	-f int      failed unlock attempts before lockout
//	-t int      operation timeout, seconds
//	-l string   log level
//	-u string   S3 root user
//	-p string   S3 root password
//	-b string   S3 bucket name
//	-g string   S3 region
//	-e string   S3 base endpoint (e.g., "http://127.0.0.1:9000/")
//	-x string   audit archive key prefix
//
// os.Args is filtered with flagx.FilterArgs first so flags owned by other
// components do not break parsing.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-d", "-i", "-m", "-f", "-t", "-l", "-u", "-p", "-b", "-g", "-e", "-x"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.IntVar(&config.KDFIterations, "i", config.KDFIterations, "KDF iterations for new keys")
	fs.IntVar(&config.KDFMaxIterations, "m", config.KDFMaxIterations, "maximum accepted KDF iterations")
	fs.IntVar(&config.MaxFailedAttempts, "f", config.MaxFailedAttempts, "failed unlock attempts before lockout")

	timeout := fs.Int("t", int(config.OperationTimeout.Seconds()), "operation timeout (in seconds)")

	fs.StringVar(&config.LogLevel, "l", config.LogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&config.S3RootUser, "u", config.S3RootUser, "S3 root user")
	fs.StringVar(&config.S3RootPassword, "p", config.S3RootPassword, "S3 root password")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 bucket")
	fs.StringVar(&config.S3Region, "g", config.S3Region, "S3 region")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")
	fs.StringVar(&config.AuditArchivePrefix, "x", config.AuditArchivePrefix, "audit archive key prefix")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.OperationTimeout = time.Duration(*timeout) * time.Second
}
