package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// loadEnvFile loads environment variables from .env/.env.local files. A
// missing file is fine; a file that exists but cannot be parsed is not.
// godotenv.Load never overrides variables already present in the process
// environment.
func loadEnvFile() error {
	envPaths := []string{".env", ".env.local"}
	for _, envPath := range envPaths {
		err := godotenv.Load(envPath)
		if err == nil {
			return nil
		}
		if !os.IsNotExist(err) {
			return fmt.Errorf("load %s: %w", envPath, err)
		}
	}
	return nil
}
