package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/danmuck/mcwire/internal/config"
	"github.com/danmuck/mcwire/internal/logging"
	"github.com/danmuck/mcwire/internal/server"
	"github.com/rs/zerolog/log"
)

const defaultConfigPath = "cmd/wirectl/config.toml"

func main() {
	path := flag.String("config", defaultConfigPath, "server config path")
	initPath := flag.String("init", "", "write a config template to this path and exit")
	force := flag.Bool("force", false, "overwrite an existing template")
	validate := flag.Bool("validate", false, "validate the config file and exit")
	flag.Parse()

	logging.ConfigureRuntime()

	if *initPath != "" {
		if err := config.WriteTemplate(*initPath, "server", *force); err != nil {
			fail(err)
		}
		log.Info().Str("path", *initPath).Msg("wrote config template")
		return
	}

	cfg, err := loadConfig(*path)
	if err != nil {
		fail(err)
	}
	if *validate {
		log.Info().Str("path", *path).Msg("config valid")
		return
	}

	svc := server.NewServiceWithConfig(cfg)
	if err := svc.Run(); err != nil {
		fail(err)
	}
}

// loadConfig falls back to defaults when the default path does not exist.
func loadConfig(path string) (server.ServiceConfig, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) && path == defaultConfigPath {
			log.Warn().Str("path", path).Msg("config not found, using defaults")
			return server.DefaultServiceConfig(), nil
		}
		return server.ServiceConfig{}, err
	}
	return config.LoadServiceConfig(path)
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "wirectl: %v\n", err)
	os.Exit(1)
}
