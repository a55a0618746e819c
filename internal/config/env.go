package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
)

// DefaultEnvFile is the dotenv file loaded before flags are parsed.
const DefaultEnvFile = ".env"

// LoadEnvFile loads variables from a dotenv file into the process environment.
// A missing file is not an error. Variables already present in the
// environment are left untouched, so real environment values win.
func LoadEnvFile(path string) error {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("config: load %s: %w", path, err)
	}
	return nil
}
