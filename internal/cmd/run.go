// Package cmd wires the configured roles into running services.
package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/modelrelay/modelrelay/internal/access"
	"github.com/modelrelay/modelrelay/internal/api"
	"github.com/modelrelay/modelrelay/internal/config"
	"github.com/modelrelay/modelrelay/internal/logging"
	"github.com/modelrelay/modelrelay/internal/registry"
	"github.com/modelrelay/modelrelay/internal/router"
	"github.com/modelrelay/modelrelay/internal/util"
	"github.com/modelrelay/modelrelay/internal/watcher"
	"github.com/modelrelay/modelrelay/internal/worker"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// ErrNoRole is returned when neither the controller nor the gateway is enabled.
var ErrNoRole = errors.New("cmd: no role enabled")

// Service holds the roles built from one configuration.
type Service struct {
	cfg        *config.Config
	configPath string

	registry   *registry.Registry
	access     *access.Manager
	controller *api.Server
	gateway    *api.Server
	pprof      *pprofServer
}

// NewService builds the enabled roles. The gateway resolves workers against
// the in-process registry when the controller runs here too, otherwise
// through the controller's HTTP surface.
func NewService(cfg *config.Config, configPath string) (*Service, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if !cfg.Controller.Enable && !cfg.Gateway.Enable {
		return nil, ErrNoRole
	}
	workers := worker.NewClient(cfg)
	s := &Service{cfg: cfg, configPath: configPath, access: access.NewManager(), pprof: &pprofServer{}}

	var resolver router.Resolver
	if cfg.Controller.Enable {
		s.registry = registry.New(workers,
			registry.WithProbeTimeout(cfg.ProbeTimeout()),
			registry.WithExpiration(cfg.HeartBeatExpiration()),
			registry.WithSweepInterval(cfg.SweepInterval()),
		)
		s.controller = api.NewControllerServer(cfg, s.registry)
		resolver = router.LocalResolver{Registry: s.registry}
	} else {
		resolver = router.NewControllerClient(cfg)
	}
	if cfg.Gateway.Enable {
		s.gateway = api.NewGatewayServer(cfg, router.New(resolver), workers, api.WithAccessManager(s.access))
	}
	return s, nil
}

// Run serves every role until ctx is cancelled or one of them fails, then
// shuts the others down.
func (s *Service) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	s.pprof.Apply(s.cfg)
	g.Go(func() error {
		<-gctx.Done()
		return s.pprof.Shutdown(context.Background())
	})

	if s.registry != nil {
		g.Go(func() error {
			s.registry.Run(gctx)
			return nil
		})
	}
	for _, srv := range []*api.Server{s.controller, s.gateway} {
		srv := srv
		if srv == nil {
			continue
		}
		g.Go(srv.Start)
		g.Go(func() error {
			<-gctx.Done()
			return srv.Stop(context.Background())
		})
	}

	if s.configPath != "" {
		w, errWatcher := watcher.NewWatcher(s.configPath, s.applyConfig)
		if errWatcher != nil {
			log.Warnf("config hot reload disabled: %v", errWatcher)
		} else {
			w.SetConfig(s.cfg)
			g.Go(func() error {
				if errRun := w.Run(gctx); errRun != nil {
					log.Warnf("config hot reload stopped: %v", errRun)
				}
				return nil
			})
		}
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("cmd: %w", err)
	}
	log.Info("all roles stopped")
	return nil
}

// applyConfig is the hot-reload callback. Only logging, API keys, the
// streaming keep-alive and the pprof listener change without a restart.
func (s *Service) applyConfig(cfg *config.Config) {
	if errLog := logging.ConfigureLogOutput(cfg); errLog != nil {
		log.Errorf("failed to reconfigure log output: %v", errLog)
	}
	util.SetLogLevel(cfg)
	s.pprof.Apply(cfg)
	s.controller.UpdateClients(cfg)
	s.gateway.UpdateClients(cfg)
}

// StartService builds and runs the configured roles.
func StartService(ctx context.Context, cfg *config.Config, configPath string) error {
	s, err := NewService(cfg, configPath)
	if err != nil {
		return err
	}
	return s.Run(ctx)
}
