package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ternarybob/optiscan/internal/app"
	"github.com/ternarybob/optiscan/internal/common"
	"github.com/ternarybob/optiscan/internal/server"
)

// configPaths collects repeated -config flags
type configPaths []string

func (c *configPaths) String() string {
	return fmt.Sprintf("%v", *c)
}

func (c *configPaths) Set(value string) error {
	*c = append(*c, value)
	return nil
}

func main() {
	var configs configPaths
	flag.Var(&configs, "config", "Path to a TOML config file (repeatable, later files override)")
	port := flag.Int("port", 0, "Override server port")
	host := flag.String("host", "", "Override server host")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	version := common.LoadVersionFromFile()
	if *showVersion {
		fmt.Println(common.GetFullVersion())
		return
	}

	config, err := common.LoadFromFiles(configs...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	common.ApplyFlagOverrides(config, *port, *host)

	common.InstallCrashHandler("")
	defer common.RecoverWithCrashFile()

	logger := common.InitLogger(config)
	common.PrintBanner(version)

	logger.Info().
		Str("version", version).
		Str("environment", config.Environment).
		Msg("Starting OptiScan")

	application, err := app.New(config)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize application")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := application.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start application")
	}

	srv := server.New(application)
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- srv.Start()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			logger.Error().Err(err).Msg("Server stopped unexpectedly")
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("Server shutdown incomplete")
	}

	cancel()
	application.Stop()

	logger.Info().Msg("Shutdown complete")
}
