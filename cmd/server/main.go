package main

import (
	"github.com/rs/zerolog/log"

	"ad-eligibility-engine/internal/app/server"
	"ad-eligibility-engine/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	config.SetupLogging(cfg.Server.LogLevel)

	if err := server.Run(cfg); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
}
