package config

import (
	"flag"
	"os"

	"github.com/eruvanos/warehouse14/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   HTTP bind address (e.g., ":8080")
//	-m string   metadata backend: memory, dynamodb or postgres
//	-t string   DynamoDB table name
//	-n string   DynamoDB endpoint override (dynamodb-local)
//	-r string   DynamoDB region
//	-d string   PostgreSQL DSN
//	-s string   blob storage: local or s3
//	-l string   file storage root directory
//	-u string   S3 root user
//	-p string   S3 root password
//	-b string   S3 bucket name
//	-g string   S3 region
//	-e string   S3 base endpoint (e.g., "http://127.0.0.1:9000/")
//	-o          allow overwriting stored files
//	-k          allow project creation on first upload
//	-i string   token issuer domain
//
// The function first filters os.Args to only the flags it recognizes using
// flagx.FilterArgs, avoiding collisions with other components.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{
		"-a", "-m", "-t", "-n", "-r", "-d", "-s", "-l",
		"-u", "-p", "-b", "-g", "-e", "-o", "-k", "-i",
	})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.Addr, "a", config.Addr, "address and port to run server")
	fs.StringVar(&config.Backend, "m", config.Backend, "metadata backend (memory|dynamodb|postgres)")
	fs.StringVar(&config.DynamoTable, "t", config.DynamoTable, "DynamoDB table name")
	fs.StringVar(&config.DynamoEndpoint, "n", config.DynamoEndpoint, "DynamoDB endpoint override")
	fs.StringVar(&config.DynamoRegion, "r", config.DynamoRegion, "DynamoDB region")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.Storage, "s", config.Storage, "blob storage (local|s3)")
	fs.StringVar(&config.LocalRoot, "l", config.LocalRoot, "file storage root directory")
	fs.StringVar(&config.S3RootUser, "u", config.S3RootUser, "S3 root user")
	fs.StringVar(&config.S3RootPassword, "p", config.S3RootPassword, "S3 root password")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 bucket")
	fs.StringVar(&config.S3Region, "g", config.S3Region, "S3 region")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")
	fs.BoolVar(&config.AllowOverwrite, "o", config.AllowOverwrite, "allow overwriting stored files")
	fs.BoolVar(&config.AllowProjectCreation, "k", config.AllowProjectCreation, "allow project creation on upload")
	fs.StringVar(&config.TokenDomain, "i", config.TokenDomain, "token issuer domain")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}
}
