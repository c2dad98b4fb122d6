// Package main is the modelrelay entry point. One binary runs the controller,
// the OpenAI-compatible gateway, or the terminal chat client.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/modelrelay/modelrelay/internal/buildinfo"
	"github.com/modelrelay/modelrelay/internal/cmd"
	"github.com/modelrelay/modelrelay/internal/config"
	"github.com/modelrelay/modelrelay/internal/logging"
	"github.com/modelrelay/modelrelay/internal/misc"
	"github.com/modelrelay/modelrelay/internal/util"
	log "github.com/sirupsen/logrus"
)

var (
	Version           = "dev"
	Commit            = "none"
	BuildDate         = "unknown"
	DefaultConfigPath = ""
)

// init initializes the shared logger setup.
func init() {
	logging.SetupBaseLogger()
	buildinfo.Version = Version
	buildinfo.Commit = Commit
	buildinfo.BuildDate = BuildDate
}

func main() {
	var configPath string
	var controllerRole bool
	var gatewayRole bool
	var chatMode bool
	var showVersion bool

	flag.StringVar(&configPath, "config", DefaultConfigPath, "Configure File Path")
	flag.BoolVar(&controllerRole, "controller", false, "Run the worker registry")
	flag.BoolVar(&gatewayRole, "gateway", false, "Run the OpenAI-compatible gateway")
	flag.BoolVar(&chatMode, "chat", false, "Start the terminal chat client")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("modelrelay Version: %s, Commit: %s, BuiltAt: %s\n", buildinfo.Version, buildinfo.Commit, buildinfo.BuildDate)
		return
	}

	wd, err := os.Getwd()
	if err != nil {
		log.Errorf("failed to get working directory: %v", err)
		return
	}
	if errLoad := godotenv.Load(filepath.Join(wd, ".env")); errLoad != nil && !errors.Is(errLoad, os.ErrNotExist) {
		log.WithError(errLoad).Warn("failed to load .env file")
	}

	// Without -config, config.yaml in the working directory is used, seeded
	// from config.example.yaml when missing.
	optional := false
	if configPath == "" {
		configPath = filepath.Join(wd, "config.yaml")
		optional = true
		if copied, errCopy := misc.CopyConfigTemplate(filepath.Join(wd, "config.example.yaml"), configPath); errCopy != nil && !errors.Is(errCopy, os.ErrNotExist) {
			log.Warnf("failed to seed config.yaml: %v", errCopy)
		} else if copied {
			log.Infof("created %s from config.example.yaml", configPath)
		}
	}
	cfg, err := config.LoadConfigOptional(configPath, optional)
	if err != nil {
		log.Errorf("failed to load config: %v", err)
		return
	}
	if _, errStat := os.Stat(configPath); errStat != nil {
		configPath = ""
	}

	if err = logging.ConfigureLogOutput(cfg); err != nil {
		log.Errorf("failed to configure log output: %v", err)
		return
	}
	util.SetLogLevel(cfg)
	log.Infof("modelrelay Version: %s, Commit: %s, BuiltAt: %s", buildinfo.Version, buildinfo.Commit, buildinfo.BuildDate)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if chatMode {
		if errChat := cmd.DoChat(ctx, cfg); errChat != nil {
			fmt.Fprintf(os.Stderr, "chat error: %v\n", errChat)
		}
		return
	}

	// Role flags override the config file. With neither flag nor config,
	// both roles run in one process.
	if controllerRole || gatewayRole {
		cfg.Controller.Enable = controllerRole
		cfg.Gateway.Enable = gatewayRole
	} else if !cfg.Controller.Enable && !cfg.Gateway.Enable {
		cfg.Controller.Enable = true
		cfg.Gateway.Enable = true
	}

	if errRun := cmd.StartService(ctx, cfg, configPath); errRun != nil {
		log.Errorf("service stopped: %v", errRun)
	}
}
