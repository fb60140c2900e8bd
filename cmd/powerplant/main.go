package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/power-plant/powerplant/internal"
	"github.com/power-plant/powerplant/internal/config"
	"github.com/power-plant/powerplant/pkg/logger"
)

var log = logger.Get("Main")

// main is the entry point of the API server: load configuration, construct
// the core service and run it until interrupted.
func main() {
	configPath := flag.String("config", "", "path to YAML configuration file (environment only when omitted)")
	verbosity := flag.Int("verbose", logger.INFO.Level(), "minimum log level to emit")
	flag.Parse()

	logger.SetMinLoggingLevel(*verbosity)

	// A .env file is a development convenience; production deployments
	// carry real environment variables.
	if err := godotenv.Load(); err == nil {
		log.Emit(logger.DEBUG, "Loaded environment from .env file\n")
	}

	cfg := config.PowerPlantConfig{}
	var err error
	if *configPath != "" {
		err = cfg.LoadFromFile(*configPath)
	} else {
		err = cfg.LoadFromEnv()
	}
	if err != nil {
		log.Emit(logger.FATAL, "Failed to load configuration: %s\n", err.Error())
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	exitChannel := make(chan os.Signal, 1)
	signal.Notify(exitChannel, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-exitChannel
		log.Emit(logger.STOP, "Interrupt received, shutting down...\n")
		cancel()
	}()

	if err := internal.New(cfg).Run(ctx); err != nil {
		log.Emit(logger.FATAL, "PowerPlant stopped: %s\n", err.Error())
		os.Exit(1)
	}
}
