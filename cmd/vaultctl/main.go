package main

import (
	"context"
	"log"
	"os"

	"github.com/dmitrijs2005/secretvault/internal/cli"
	"github.com/dmitrijs2005/secretvault/internal/server"
	"github.com/dmitrijs2005/secretvault/internal/server/config"
)

func main() {

	ctx := context.Background()
	cfg := config.LoadConfig()
	app, err := server.NewApp(ctx, cfg, os.Stderr)

	if err != nil {
		log.Fatalf("%v", err)
	}

	console := cli.NewApp(app.Services, cfg.OperationTimeout, app.Logger(), os.Stdin, os.Stdout)
	if err := app.Run(ctx, console.Run); err != nil {
		log.Fatalf("%v", err)
	}

}
