package main

import (
	"github.com/joho/godotenv"

	"docrag/internal/cli"
)

func main() {
	// A missing .env is fine; keys may come from the environment.
	_ = godotenv.Load()

	cli.Execute()
}
