package frontend

import (
	"os"

	"github.com/joho/godotenv"

	"github.com/jghoshh/fitquest/frontend/client"
	"github.com/jghoshh/fitquest/frontend/cmd"
)

// DefaultServerURL is used when SERVER_URL is unset.
const DefaultServerURL = "http://localhost:8080"

// RunFrontend starts the interactive shell against SERVER_URL.
func RunFrontend() {
	// A missing frontend/.env is fine, the environment may already be set.
	_ = godotenv.Load("frontend/.env")

	serverURL := os.Getenv("SERVER_URL")
	if serverURL == "" {
		serverURL = DefaultServerURL
	}

	api := client.New(serverURL, os.Getenv("AUTH_TOKEN_KEY"))
	cmd.NewShell(api).Execute()
}
