package main

import (
	"context"
	"log"
	"os"

	"github.com/accessmate/accessmate/internal/buildinfo"
	"github.com/accessmate/accessmate/internal/cli"
	"github.com/accessmate/accessmate/internal/config"
	"github.com/accessmate/accessmate/internal/logging"
	"github.com/accessmate/accessmate/internal/manager"
)

func main() {
	buildinfo.PrintBuildData(os.Stdout)

	ctx := context.Background()
	cfg := config.LoadConfig()

	// The handler level starts at info and follows the log_level setting
	// once a session is open.
	logger := logging.NewJSONLogger(os.Stderr)

	m, err := manager.New(cfg, nil, logger)
	if err != nil {
		log.Fatalf("%v", err)
	}

	app := cli.NewApp(m)
	app.Run(ctx)
}
