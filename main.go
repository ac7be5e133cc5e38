package main

import (
	"github.com/joho/godotenv"

	"github.com/camden-git/framearchive/cmd"
	"github.com/camden-git/framearchive/logging"
)

func main() {
	if err := godotenv.Load(); err != nil {
		logging.Debug().Err(err).Msg("no .env file loaded")
	}
	cmd.Execute()
}
