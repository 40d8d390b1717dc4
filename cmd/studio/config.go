package main

import (
	"errors"
	"fmt"
	"os"

	"gorm.io/gorm"

	"github.com/danilop/ai-doc-read-studio/internal/config"
	"github.com/danilop/ai-doc-read-studio/internal/db"
)

const defaultConfigPath = "studio.yaml"

// loadConfig reads configPath. A missing file at the default path falls back
// to the built-in defaults plus environment overrides.
func loadConfig(configPath string) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err == nil {
		return cfg, nil
	}
	if configPath == defaultConfigPath && errors.Is(err, os.ErrNotExist) {
		cfg, err = config.Default()
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func connectFromConfig(configPath string) (*config.Config, *gorm.DB, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}

	gormDB, err := db.Connect(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to %s: %w", cfg.Database.Driver, err)
	}

	return cfg, gormDB, nil
}
