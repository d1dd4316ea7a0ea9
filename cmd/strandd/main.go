// Command strandd runs a strand process from a config file. The boot
// service is the echo gateway.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/najoast/strand/bootstrap"
	"github.com/najoast/strand/config"
	"github.com/najoast/strand/gateway"
	"github.com/najoast/strand/logger"
)

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintln(os.Stderr, "no config file.")
		os.Exit(1)
	}

	// Broken pipes surface as write errors
	signal.Ignore(syscall.SIGPIPE)

	if err := run(os.Args[1]); err != nil {
		slog.Error("strandd exited", "error", err)
		os.Exit(1)
	}
}

func run(configFile string) error {
	loader := config.NewLoader()
	cfg, err := loader.LoadFromFile(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config %s: %w", configFile, err)
	}

	log, level, closer, err := logger.New(cfg.Log)
	if err != nil {
		return err
	}
	defer closer.Close()
	slog.SetDefault(log)

	watcher, err := config.NewWatcher(configFile, loader, log)
	if err != nil {
		log.Warn("config hot reload disabled", "error", err)
	} else {
		watcher.OnConfigChange(func(oldConfig, newConfig *config.Config) {
			if oldConfig.Log.Level == newConfig.Log.Level {
				return
			}
			level.Set(logger.ParseLevel(newConfig.Log.Level))
			log.Info("log level changed", "from", oldConfig.Log.Level, "to", newConfig.Log.Level)
		})
		if err := watcher.Start(); err != nil {
			log.Warn("config hot reload disabled", "error", err)
		} else {
			defer watcher.Stop()
		}
	}

	app := bootstrap.NewApplication(log)
	for _, name := range []string{"launcher", gateway.Name} {
		if err := app.Registry().Register(name, gateway.Factory); err != nil {
			return err
		}
	}

	if err := app.Configure(cfg); err != nil {
		return err
	}
	return app.Run(context.Background())
}
