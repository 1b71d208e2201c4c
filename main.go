package main

import (
	"os"

	"github.com/rs/zerolog/log"

	"llmchat/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		log.Error().Err(err).Msg("llmchat failed")
		os.Exit(1)
	}
}
