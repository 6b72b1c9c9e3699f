package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"metalwatch/internal/cli"
)

func main() {
	// Environment overrides may live in a local .env during development.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
	}
	cli.Execute()
}
