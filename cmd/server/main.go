package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/mysverse/worker-bank/internal/bootstrap"
	"github.com/mysverse/worker-bank/pkg/commons"
)

func main() {
	// Values already present in the environment win over .env entries.
	_ = godotenv.Load()

	config, err := bootstrap.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	service, err := bootstrap.NewService(config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to assemble gateway: %v\n", err)
		os.Exit(1)
	}

	commons.NewLauncher(
		commons.WithLogger(service.Logger),
		commons.RunApp("transaction gateway", service),
	).Run()
}
