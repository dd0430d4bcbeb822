package main

import (
	"github.com/rs/zerolog/log"

	"github.com/ClaraKoka/cocalc/pkg/hub"
)

func main() {
	h, err := hub.NewHub()
	if err != nil {
		log.Fatal().Err(err).Msg("error creating hub service")
	}

	if err := h.Start(); err != nil {
		log.Fatal().Err(err).Msg("hub exited with error")
	}
	log.Info().Msg("hub stopped")
}
