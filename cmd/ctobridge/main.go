package main

import (
	"os"

	"github.com/joho/godotenv"

	"github.com/ctobridge/ctobridge/cmd"
)

func main() {
	// Optional .env in the working directory; real environment wins.
	_ = godotenv.Load()

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
