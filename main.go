package main

import (
	"fmt"
	"os"

	"github.com/jghoshh/fitquest/backend"
	"github.com/jghoshh/fitquest/backend/config"
	"github.com/jghoshh/fitquest/frontend"
)

const usage = `usage: fitquest [command]

commands:
  server           run the backend (default)
  shell            run the interactive client shell
  token <user_id>  print a bearer token for a user, signed with JWT_SIGNING_KEY
`

func main() {
	command := "server"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	switch command {
	case "server":
		cfg := loadConfig()
		if err := backend.RunBackend(cfg); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	case "shell":
		frontend.RunFrontend()
	case "token":
		if len(os.Args) != 3 {
			fmt.Fprint(os.Stderr, usage)
			os.Exit(2)
		}
		token, err := backend.MintToken(loadConfig(), os.Args[2])
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println(token)
	case "help", "-h", "--help":
		fmt.Print(usage)
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
}

func loadConfig() *config.Config {
	cfg, loaded, err := config.Load(backend.DotenvFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error loading configuration:", err)
		os.Exit(1)
	}
	if !loaded {
		fmt.Fprintln(os.Stderr, "No", backend.DotenvFile, "file, using the environment only")
	}
	return cfg
}
