package cmd

import (
	"context"
	"errors"
	"net/http"
	"net/http/pprof"
	"sync"
	"time"

	"github.com/modelrelay/modelrelay/internal/config"
	log "github.com/sirupsen/logrus"
)

// pprofServer runs the profiling listener and follows config reloads.
type pprofServer struct {
	mu      sync.Mutex
	server  *http.Server
	addr    string
	enabled bool
}

// Apply starts, restarts or stops the listener to match cfg.
func (p *pprofServer) Apply(cfg *config.Config) {
	if p == nil || cfg == nil {
		return
	}
	addr := cfg.Pprof.Addr
	if addr == "" {
		addr = config.DefaultPprofAddr
	}

	p.mu.Lock()
	current, currentAddr := p.server, p.addr
	p.addr = addr
	p.enabled = cfg.Pprof.Enable
	if !p.enabled {
		p.server = nil
		p.mu.Unlock()
		_ = p.stop(context.Background(), current, currentAddr, "disabled")
		return
	}
	if current != nil && currentAddr == addr {
		p.mu.Unlock()
		return
	}
	p.server = nil
	p.mu.Unlock()

	_ = p.stop(context.Background(), current, currentAddr, "restarted")
	p.start(addr)
}

// Shutdown stops the listener if it is running.
func (p *pprofServer) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	current, addr := p.server, p.addr
	p.server = nil
	p.enabled = false
	p.mu.Unlock()
	return p.stop(ctx, current, addr, "shutdown")
}

// Addr returns the address of the running listener, or "".
func (p *pprofServer) Addr() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.server == nil {
		return ""
	}
	return p.addr
}

func (p *pprofServer) start(addr string) {
	server := &http.Server{
		Addr:              addr,
		Handler:           newPprofMux(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	p.mu.Lock()
	if !p.enabled || p.addr != addr || p.server != nil {
		p.mu.Unlock()
		return
	}
	p.server = server
	p.mu.Unlock()

	log.Infof("pprof server starting on %s", addr)
	go func() {
		if errServe := server.ListenAndServe(); errServe != nil && !errors.Is(errServe, http.ErrServerClosed) {
			log.Errorf("pprof server failed on %s: %v", addr, errServe)
			p.mu.Lock()
			if p.server == server {
				p.server = nil
			}
			p.mu.Unlock()
		}
	}()
}

func (p *pprofServer) stop(ctx context.Context, server *http.Server, addr, reason string) error {
	if server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if errStop := server.Shutdown(ctx); errStop != nil {
		log.Errorf("pprof server stop failed on %s: %v", addr, errStop)
		return errStop
	}
	log.Infof("pprof server stopped on %s (%s)", addr, reason)
	return nil
}

func newPprofMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	return mux
}
