package config

import (
	"errors"
	"io/fs"
	"path/filepath"

	"github.com/joho/godotenv"
)

// LoadDotenv loads <home>/.env into the process environment. Variables that
// are already set are left alone, so the real environment always wins.
// A missing file is not an error.
func LoadDotenv(home string) error {
	if home == "" {
		return nil
	}
	path := filepath.Join(home, ".env")
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	return nil
}
