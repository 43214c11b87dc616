// Package config loads credentials from the environment and run
// parameters from a JSON settings file.
package config

import (
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Env holds credentials and endpoints. Secrets come from the process
// environment (or a .env file next to the working directory) so they
// never live in the settings file.
type Env struct {
	ImageryToken   string `env:"TILEGEN_IMAGERY_TOKEN"`
	ImageryBaseURL string `env:"TILEGEN_IMAGERY_URL" envDefault:"https://api.mapbox.com/v4"`

	AssetAPIKey   string `env:"TILEGEN_ASSET_API_KEY"`
	AssetCreator  string `env:"TILEGEN_ASSET_CREATOR_ID"`
	AssetsURL     string `env:"TILEGEN_ASSETS_URL" envDefault:"https://apis.roblox.com/assets/v1/assets"`
	OperationsURL string `env:"TILEGEN_OPERATIONS_URL" envDefault:"https://apis.roblox.com/assets/v1/operations"`

	DatastoreURL string `env:"TILEGEN_DATASTORE_URL"`
}

// LoadEnv reads a .env file if present, then parses the environment.
func LoadEnv() (Env, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return Env{}, fmt.Errorf("load .env: %w", err)
	}
	var e Env
	if err := env.Parse(&e); err != nil {
		return Env{}, fmt.Errorf("parse environment: %w", err)
	}
	return e, nil
}

// ValidateForRun checks the credentials the generation pipeline needs.
func (e Env) ValidateForRun() error {
	if e.ImageryToken == "" {
		return fmt.Errorf("TILEGEN_IMAGERY_TOKEN is not set")
	}
	if e.AssetAPIKey == "" {
		return fmt.Errorf("TILEGEN_ASSET_API_KEY is not set")
	}
	if e.AssetCreator == "" {
		return fmt.Errorf("TILEGEN_ASSET_CREATOR_ID is not set")
	}
	return nil
}

// ValidateForExport checks the credentials the datastore export needs.
func (e Env) ValidateForExport() error {
	if e.AssetAPIKey == "" {
		return fmt.Errorf("TILEGEN_ASSET_API_KEY is not set")
	}
	if e.DatastoreURL == "" {
		return fmt.Errorf("TILEGEN_DATASTORE_URL is not set")
	}
	return nil
}
