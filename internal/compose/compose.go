package compose

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"sync"
	"time"
)

// StackRef is the opaque backing reference recorded for a stack instance.
func StackRef(labID string) string {
	return "stack:" + labID
}

// Runner executes the external compose tool. Split out so tests can swap in
// a fake without an engine.
type Runner interface {
	Run(ctx context.Context, dir string, args ...string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, dir string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "docker", args...)
	cmd.Dir = dir
	return cmd.CombinedOutput()
}

// Manager starts and stops multi-container lab stacks as atomic units. The
// running-stack registry is process-local mutable state: it resets on
// restart and is not shared across replicas, so a multi-process deployment
// needs a store-backed check instead.
type Manager struct {
	runner     Runner
	logger     *slog.Logger
	settleWait time.Duration

	mu      sync.Mutex
	locks   map[string]*sync.Mutex // per-lab, held across tool invocations
	running map[string]bool        // lab ID -> stack is up
}

func NewManager(logger *slog.Logger) *Manager {
	return &Manager{
		runner:     execRunner{},
		logger:     logger,
		settleWait: 3 * time.Second,
		locks:      make(map[string]*sync.Mutex),
		running:    make(map[string]bool),
	}
}

// labLock serializes all compose invocations for one lab, so a racing
// second start observes the registry only after the first finished.
func (m *Manager) labLock(labID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	mu, ok := m.locks[labID]
	if !ok {
		mu = &sync.Mutex{}
		m.locks[labID] = mu
	}
	return mu
}

// NewManagerWithRunner is used by tests.
func NewManagerWithRunner(runner Runner, logger *slog.Logger) *Manager {
	m := NewManager(logger)
	m.runner = runner
	m.settleWait = 0
	return m
}

// StartStack brings a lab's compose stack up. Idempotent per lab ID: the
// per-lab lock is held across the whole invocation, so concurrent starts
// for the same lab run the compose tool exactly once between them.
func (m *Manager) StartStack(ctx context.Context, labID, composeFile string) error {
	lock := m.labLock(labID)
	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	up := m.running[labID]
	m.mu.Unlock()
	if up {
		return nil
	}

	out, err := m.runner.Run(ctx, filepath.Dir(composeFile),
		"compose", "-f", composeFile, "up", "-d")
	if err != nil {
		return fmt.Errorf("compose up: %w: %s", err, string(out))
	}

	// Services need a moment before the first attach succeeds.
	if m.settleWait > 0 {
		select {
		case <-time.After(m.settleWait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	m.mu.Lock()
	m.running[labID] = true
	m.mu.Unlock()

	m.logger.Info("stack started", "lab_id", labID, "compose_file", composeFile)
	return nil
}

// StopStack tears a stack down. The registry entry is cleared
// unconditionally: after a stop attempt the registry must never claim a
// stack that may no longer match reality, even if teardown reported an
// error.
func (m *Manager) StopStack(ctx context.Context, labID, composeFile string) error {
	lock := m.labLock(labID)
	lock.Lock()
	defer lock.Unlock()

	out, err := m.runner.Run(ctx, filepath.Dir(composeFile),
		"compose", "-f", composeFile, "down")

	m.mu.Lock()
	delete(m.running, labID)
	m.mu.Unlock()

	if err != nil {
		m.logger.Warn("compose down reported error", "lab_id", labID, "error", err, "output", string(out))
		return fmt.Errorf("compose down: %w", err)
	}

	m.logger.Info("stack stopped", "lab_id", labID)
	return nil
}

// IsRunning reports the registry's view of a stack.
func (m *Manager) IsRunning(labID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running[labID]
}
