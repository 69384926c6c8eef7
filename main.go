package main

import (
	"log"
	"os"

	"github.com/joho/godotenv"

	"ledgersync/cmd"
)

func main() {
	// Load environment variables; a missing .env is normal outside development
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("Warning: Could not load .env file: %v", err)
	}

	// Configuration and logging are set up per command
	cmd.Execute()
}
