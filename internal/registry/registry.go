// Package registry tracks the single generation worker served by the controller.
// It owns the worker's identity and liveness: registration, heartbeats, explicit
// removal, operator-triggered refresh and the periodic expiry sweep.
//
// At most one worker is held at any time. A different endpoint trying to register
// while a worker is present is rejected; the same endpoint re-registering replaces
// its own record.
package registry

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/modelrelay/modelrelay/internal/interfaces"
	log "github.com/sirupsen/logrus"
)

var (
	// ErrWorkerConflict is returned when a second distinct endpoint tries to register.
	ErrWorkerConflict = errors.New("registry: another worker is already registered")

	// ErrProbeFailed is returned when the worker status probe fails.
	ErrProbeFailed = errors.New("registry: worker status probe failed")

	// ErrUnknownWorker is returned by Refresh for an endpoint that is not registered.
	ErrUnknownWorker = errors.New("registry: worker not registered")
)

// StatusProber fetches a worker's status directly from the worker.
type StatusProber interface {
	Status(ctx context.Context, endpoint string) (*interfaces.WorkerStatus, error)
}

// WorkerRecord describes the registered worker.
type WorkerRecord struct {
	Endpoint       string    `json:"endpoint"`
	ModelNames     []string  `json:"model_names"`
	Speed          int       `json:"speed"`
	QueueLength    int       `json:"queue_length"`
	CheckHeartbeat bool      `json:"check_heart_beat"`
	LastHeartbeat  time.Time `json:"last_heart_beat"`
	Multimodal     bool      `json:"multimodal"`
}

func (w *WorkerRecord) clone() WorkerRecord {
	out := *w
	out.ModelNames = slices.Clone(w.ModelNames)
	return out
}

func (w *WorkerRecord) serves(model string) bool {
	return slices.Contains(w.ModelNames, model)
}

// Registry holds zero or one WorkerRecord behind a single lock.
type Registry struct {
	mu     sync.RWMutex
	worker *WorkerRecord

	prober        StatusProber
	probeTimeout  time.Duration
	expiration    time.Duration
	sweepInterval time.Duration
	now           func() time.Time
}

// Option customizes a Registry.
type Option func(*Registry)

// WithProbeTimeout bounds each status probe.
func WithProbeTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.probeTimeout = d
		}
	}
}

// WithExpiration sets the heartbeat expiration window.
func WithExpiration(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.expiration = d
		}
	}
}

// WithSweepInterval sets how often Run sweeps. Values above the expiration
// window are clamped to it.
func WithSweepInterval(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.sweepInterval = d
		}
	}
}

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// New creates an empty registry that probes workers through prober.
func New(prober StatusProber, opts ...Option) *Registry {
	r := &Registry{
		prober:       prober,
		probeTimeout: 5 * time.Second,
		expiration:   90 * time.Second,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.sweepInterval <= 0 || r.sweepInterval > r.expiration {
		r.sweepInterval = r.expiration
	}
	return r
}

// Register records the worker at endpoint. When status is nil the worker is probed
// first, and a failed probe leaves the registry untouched.
func (r *Registry) Register(ctx context.Context, endpoint string, checkHeartbeat bool, status *interfaces.WorkerStatus, multimodal bool) error {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return fmt.Errorf("registry: empty worker endpoint")
	}

	r.mu.RLock()
	conflict := r.worker != nil && r.worker.Endpoint != endpoint
	current := ""
	if r.worker != nil {
		current = r.worker.Endpoint
	}
	r.mu.RUnlock()
	if conflict {
		log.WithField("worker", endpoint).Warnf("registration rejected: worker %s is already registered", current)
		return ErrWorkerConflict
	}

	if status == nil {
		probed, errProbe := r.probe(ctx, endpoint)
		if errProbe != nil {
			log.WithField("worker", endpoint).WithError(errProbe).Warn("registration aborted: status probe failed")
			return fmt.Errorf("%w: %v", ErrProbeFailed, errProbe)
		}
		status = probed
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.worker != nil && r.worker.Endpoint != endpoint {
		log.WithField("worker", endpoint).Warnf("registration rejected: worker %s is already registered", r.worker.Endpoint)
		return ErrWorkerConflict
	}
	reRegister := r.worker != nil
	r.worker = &WorkerRecord{
		Endpoint:       endpoint,
		ModelNames:     slices.Clone(status.ModelNames),
		Speed:          status.Speed,
		QueueLength:    status.QueueLength,
		CheckHeartbeat: checkHeartbeat,
		LastHeartbeat:  r.now(),
		Multimodal:     multimodal,
	}
	if reRegister {
		log.WithField("worker", endpoint).Infof("worker re-registered, models: %s", strings.Join(status.ModelNames, ", "))
	} else {
		log.WithField("worker", endpoint).Infof("worker registered, models: %s", strings.Join(status.ModelNames, ", "))
	}
	return nil
}

// Heartbeat refreshes the liveness of a known worker. It reports whether the
// endpoint is registered; unknown endpoints are left alone.
func (r *Registry) Heartbeat(endpoint string, queueLength int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.worker == nil || r.worker.Endpoint != endpoint {
		log.WithField("worker", endpoint).Debug("heartbeat from unknown worker")
		return false
	}
	r.worker.QueueLength = queueLength
	r.worker.LastHeartbeat = r.now()
	log.WithFields(log.Fields{"worker": endpoint, "queue_length": queueLength}).Debug("heartbeat received")
	return true
}

// Remove deletes the worker at endpoint if it is the registered one.
func (r *Registry) Remove(endpoint string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(endpoint)
}

func (r *Registry) removeLocked(endpoint string) bool {
	if r.worker == nil || r.worker.Endpoint != endpoint {
		return false
	}
	r.worker = nil
	log.WithField("worker", endpoint).Info("worker removed")
	return true
}

// SweepExpired removes the worker if it checks heartbeats and its last heartbeat
// is older than the expiration window at now.
func (r *Registry) SweepExpired(now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	w := r.worker
	if w == nil || !w.CheckHeartbeat {
		return false
	}
	if now.Sub(w.LastHeartbeat) <= r.expiration {
		return false
	}
	log.WithField("worker", w.Endpoint).Warnf("worker heartbeat expired (last seen %s ago)", now.Sub(w.LastHeartbeat).Truncate(time.Second))
	return r.removeLocked(w.Endpoint)
}

// Run sweeps expired workers every sweep interval until ctx is done.
func (r *Registry) Run(ctx context.Context) {
	ticker := time.NewTicker(r.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.SweepExpired(r.now())
		}
	}
}

// Refresh re-probes the worker at endpoint and removes it when the probe fails.
func (r *Registry) Refresh(ctx context.Context, endpoint string) error {
	r.mu.RLock()
	known := r.worker != nil && r.worker.Endpoint == endpoint
	r.mu.RUnlock()
	if !known {
		return ErrUnknownWorker
	}

	status, errProbe := r.probe(ctx, endpoint)

	r.mu.Lock()
	defer r.mu.Unlock()
	if errProbe != nil {
		log.WithField("worker", endpoint).WithError(errProbe).Warn("refresh probe failed, removing worker")
		r.removeLocked(endpoint)
		return fmt.Errorf("%w: %v", ErrProbeFailed, errProbe)
	}
	if r.worker == nil || r.worker.Endpoint != endpoint {
		return ErrUnknownWorker
	}
	r.worker.ModelNames = slices.Clone(status.ModelNames)
	r.worker.Speed = status.Speed
	r.worker.QueueLength = status.QueueLength
	return nil
}

// RefreshAll refreshes the registered worker, if any.
func (r *Registry) RefreshAll(ctx context.Context) error {
	r.mu.RLock()
	endpoint := ""
	if r.worker != nil {
		endpoint = r.worker.Endpoint
	}
	r.mu.RUnlock()
	if endpoint == "" {
		return nil
	}
	return r.Refresh(ctx, endpoint)
}

// ListModels returns the models served by the registered worker.
func (r *Registry) ListModels() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.worker == nil {
		return []string{}
	}
	return slices.Clone(r.worker.ModelNames)
}

// ListMultimodalModels returns the worker's models when it is multimodal.
func (r *Registry) ListMultimodalModels() []string {
	return r.listByCapability(true)
}

// ListLanguageModels returns the worker's models when it is text-only.
func (r *Registry) ListLanguageModels() []string {
	return r.listByCapability(false)
}

func (r *Registry) listByCapability(multimodal bool) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.worker == nil || r.worker.Multimodal != multimodal {
		return []string{}
	}
	return slices.Clone(r.worker.ModelNames)
}

// GetWorkerAddress returns the endpoint serving model, or "" when there is none.
// An empty registry and a worker that does not serve model look the same.
func (r *Registry) GetWorkerAddress(model string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.worker == nil || !r.worker.serves(model) {
		log.WithField("model", model).Warn("no worker found for model")
		return ""
	}
	return r.worker.Endpoint
}

// Snapshot returns a copy of the registered worker.
func (r *Registry) Snapshot() (WorkerRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.worker == nil {
		return WorkerRecord{}, false
	}
	return r.worker.clone(), true
}

func (r *Registry) probe(ctx context.Context, endpoint string) (*interfaces.WorkerStatus, error) {
	if r.prober == nil {
		return nil, errors.New("no status prober configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	probeCtx, cancel := context.WithTimeout(ctx, r.probeTimeout)
	defer cancel()
	status, err := r.prober.Status(probeCtx, endpoint)
	if err != nil {
		return nil, err
	}
	if status == nil {
		return nil, errors.New("empty status response")
	}
	return status, nil
}
