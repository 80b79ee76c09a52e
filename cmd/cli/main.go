package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/avolkov/mxauth/internal/buildinfo"
	"github.com/avolkov/mxauth/internal/cli"
	"github.com/avolkov/mxauth/internal/config"
)

func main() {

	buildinfo.PrintBuildData(os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.LoadConfig()
	app, err := cli.NewApp(ctx, cfg)
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer app.Close()

	if err := app.Run(ctx); err != nil {
		log.Fatalf("%v", err)
	}
}
