package config

import (
	"encoding/json"
	"os"

	"github.com/eruvanos/warehouse14/internal/flagx"
)

// JsonConfig mirrors Config for JSON unmarshalling. It is an intermediate
// DTO: after unmarshalling, its fields are copied into the runtime Config.
type JsonConfig struct {
	Addr                 string `json:"addr"`
	Backend              string `json:"backend"`
	DynamoTable          string `json:"dynamo_table"`
	DynamoEndpoint       string `json:"dynamo_endpoint"`
	DynamoRegion         string `json:"dynamo_region"`
	DatabaseDSN          string `json:"database_dsn"`
	Storage              string `json:"storage"`
	LocalRoot            string `json:"local_root"`
	S3RootUser           string `json:"s3_root_user"`
	S3RootPassword       string `json:"s3_root_password"`
	S3Bucket             string `json:"s3_bucket"`
	S3Region             string `json:"s3_region"`
	S3BaseEndpoint       string `json:"s3_base_endpoint"`
	AllowOverwrite       bool   `json:"allow_overwrite"`
	AllowProjectCreation bool   `json:"allow_project_creation"`
	TokenDomain          string `json:"token_domain"`
}

// parseJson loads configuration values from the JSON file named by the -c or
// -config flag. Without the flag, nothing is loaded. An unreadable or invalid
// file panics; a half-applied configuration must never start serving.
func parseJson(config *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	c := &JsonConfig{}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	config.Addr = c.Addr
	config.Backend = c.Backend
	config.DynamoTable = c.DynamoTable
	config.DynamoEndpoint = c.DynamoEndpoint
	config.DynamoRegion = c.DynamoRegion
	config.DatabaseDSN = c.DatabaseDSN
	config.Storage = c.Storage
	config.LocalRoot = c.LocalRoot
	config.S3RootUser = c.S3RootUser
	config.S3RootPassword = c.S3RootPassword
	config.S3Bucket = c.S3Bucket
	config.S3Region = c.S3Region
	config.S3BaseEndpoint = c.S3BaseEndpoint
	config.AllowOverwrite = c.AllowOverwrite
	config.AllowProjectCreation = c.AllowProjectCreation
	config.TokenDomain = c.TokenDomain
}
