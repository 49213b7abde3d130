package initializers

import (
	"os"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
)

// LoadEnv pulls .env into the environment for local development. Deployed
// environments set real variables and ship no .env file.
func LoadEnv(logger *log.Logger) {
	if os.Getenv("RENDER") != "" {
		return
	}
	if err := godotenv.Load(); err != nil {
		logger.Warn("no .env file found, using system environment variables")
	}
}
