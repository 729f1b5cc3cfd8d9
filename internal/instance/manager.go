package instance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/d-hoffmann/labrange/internal/catalog"
	"github.com/d-hoffmann/labrange/internal/compose"
	"github.com/d-hoffmann/labrange/internal/config"
	"github.com/d-hoffmann/labrange/internal/docker"
	"github.com/d-hoffmann/labrange/internal/store"
)

// keepAliveCommand keeps a lab container alive when its lab defines no
// explicit command; users interact through exec shells, not the main process.
var keepAliveCommand = []string{"tail", "-f", "/dev/null"}

// Manager drives the lab instance state machine: reservation, provisioning,
// teardown, expiry. It is the only component that mutates instance records.
type Manager struct {
	cfg     *config.Config
	store   *store.Store
	runtime RuntimeAdapter
	stacks  StackManager
	catalog LabCatalog
	logger  *slog.Logger

	// Per-(owner, lab) mutexes serialize the check-and-reserve step; the
	// store's unique active index backstops them across processes.
	locks   map[string]*sync.Mutex
	locksMu sync.Mutex
}

func NewManager(cfg *config.Config, st *store.Store, rt RuntimeAdapter, sm StackManager, cat LabCatalog, logger *slog.Logger) *Manager {
	return &Manager{
		cfg:     cfg,
		store:   st,
		runtime: rt,
		stacks:  sm,
		catalog: cat,
		logger:  logger,
		locks:   make(map[string]*sync.Mutex),
	}
}

func (m *Manager) pairLock(ownerID, labID string) *sync.Mutex {
	key := ownerID + "\x00" + labID
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	mu, ok := m.locks[key]
	if !ok {
		mu = &sync.Mutex{}
		m.locks[key] = mu
	}
	return mu
}

func (m *Manager) removePairLock(ownerID, labID string) {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	delete(m.locks, ownerID+"\x00"+labID)
}

// StartInstance starts (or returns the already-active) lab instance for an
// (owner, lab) pair. The record is persisted in Starting before any
// provisioning so the at-most-one invariant is held by the store, not by
// request ordering.
func (m *Manager) StartInstance(ctx context.Context, ownerID, labID string) (*store.Instance, error) {
	lab, err := m.catalog.Get(labID)
	if err != nil {
		return nil, err
	}

	mu := m.pairLock(ownerID, labID)
	mu.Lock()
	defer mu.Unlock()

	// Idempotent: an active instance for this pair is returned unchanged.
	existing, err := m.store.GetActiveInstance(ownerID, labID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	active, err := m.store.CountActiveByOwner(ownerID)
	if err != nil {
		return nil, err
	}
	if active >= m.cfg.MaxInstancesPerUser {
		return nil, fmt.Errorf("%w: %d of %d in use", ErrConcurrencyLimit, active, m.cfg.MaxInstancesPerUser)
	}

	now := time.Now().UTC()
	inst := &store.Instance{
		ID:          uuid.New().String()[:12],
		OwnerID:     ownerID,
		LabID:       labID,
		BackingKind: backingKind(lab),
		Status:      store.StatusStarting,
		CreatedAt:   now,
		ExpiresAt:   now.Add(m.cfg.SessionTimeout()),
	}

	if err := m.store.CreateInstance(inst); err != nil {
		if errors.Is(err, store.ErrActiveExists) {
			// Lost the reservation race to a concurrent starter (other
			// process or replica); adopt the winner's instance.
			winner, gerr := m.store.GetActiveInstance(ownerID, labID)
			if gerr == nil && winner != nil {
				return winner, nil
			}
		}
		return nil, err
	}

	backingRef, err := m.provision(ctx, inst, lab)
	if err != nil {
		if serr := m.store.MarkFailed(inst.ID, err.Error()); serr != nil {
			m.logger.Error("mark instance failed", "instance_id", inst.ID, "error", serr)
		}
		m.logger.Error("provision lab instance",
			"instance_id", inst.ID, "owner_id", ownerID, "lab_id", labID, "error", err)
		return nil, err
	}

	if err := m.store.MarkRunning(inst.ID, backingRef, inst.ExpiresAt); err != nil {
		// The backing resource exists but the commit failed; tear it back
		// down rather than leak an orphan.
		m.teardownBacking(ctx, inst.BackingKind, backingRef, lab)

		if errors.Is(err, store.ErrInvalidTransition) {
			// A stop landed while provisioning was in flight. The record is
			// terminal and stays that way; the teardown above just honored
			// the stop for the backing resource it never knew about.
			current, gerr := m.store.GetInstance(inst.ID)
			if gerr == nil && current != nil && current.Terminal() {
				m.logger.Info("instance stopped during provisioning",
					"instance_id", inst.ID, "owner_id", ownerID, "lab_id", labID)
				return current, nil
			}
		}

		if serr := m.store.MarkFailed(inst.ID, err.Error()); serr != nil {
			m.logger.Error("mark instance failed", "instance_id", inst.ID, "error", serr)
		}
		return nil, err
	}

	m.logger.Info("lab instance started",
		"instance_id", inst.ID, "owner_id", ownerID, "lab_id", labID,
		"backing_ref", backingRef, "expires_at", inst.ExpiresAt)

	return m.store.GetInstance(inst.ID)
}

func backingKind(lab *catalog.Lab) string {
	if lab.Kind == catalog.KindStack {
		return store.BackingStack
	}
	return store.BackingContainer
}

func (m *Manager) provision(ctx context.Context, inst *store.Instance, lab *catalog.Lab) (string, error) {
	switch lab.Kind {
	case catalog.KindStack:
		if err := m.stacks.StartStack(ctx, lab.ID, lab.ComposeFile); err != nil {
			// Best-effort compensating teardown of a half-started stack.
			m.stacks.StopStack(ctx, lab.ID, lab.ComposeFile)
			return "", err
		}
		return compose.StackRef(lab.ID), nil

	default:
		cmd := lab.Command
		if len(cmd) == 0 {
			cmd = keepAliveCommand
		}
		return m.runtime.CreateContainer(ctx, docker.CreateOpts{
			InstanceID: inst.ID,
			OwnerID:    inst.OwnerID,
			LabID:      inst.LabID,
			Image:      lab.Image,
			Command:    cmd,
			Limits:     catalog.EffectiveLimits(lab, m.cfg.Limits),
			Network:    m.cfg.Network,
		})
	}
}

// StopInstance tears down an owner's instance. Idempotent on terminal
// records. The instance is marked Stopped even when teardown reports an
// error: a record stuck in Running that can never be retried is worse than
// an orphaned-cleanup log line.
func (m *Manager) StopInstance(ctx context.Context, instanceID, requesterID string) error {
	inst, err := m.store.GetInstance(instanceID)
	if err != nil {
		return err
	}
	if inst == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, instanceID)
	}
	if inst.OwnerID != requesterID {
		return fmt.Errorf("%w: %s", ErrOwnership, instanceID)
	}
	if inst.Terminal() {
		return nil
	}

	m.stopAndRecord(ctx, inst)
	return nil
}

// stopAndRecord is the shared teardown-then-Stopped sequence used by
// StopInstance and the reaper.
func (m *Manager) stopAndRecord(ctx context.Context, inst *store.Instance) {
	if inst.BackingRef != "" {
		lab, err := m.catalog.Get(inst.LabID)
		if err != nil {
			// Lab removed from the catalog after the instance started;
			// stacks cannot be addressed without it, containers can.
			lab = nil
			m.logger.Warn("teardown without catalog entry", "instance_id", inst.ID, "lab_id", inst.LabID)
		}
		if err := m.teardownBacking(ctx, inst.BackingKind, inst.BackingRef, lab); err != nil {
			m.logger.Error("teardown backing resource",
				"instance_id", inst.ID, "backing_ref", inst.BackingRef, "error", err)
		}
	}

	if err := m.store.MarkStopped(inst.ID); err != nil {
		m.logger.Error("mark instance stopped", "instance_id", inst.ID, "error", err)
		return
	}
	m.removePairLock(inst.OwnerID, inst.LabID)
	m.logger.Info("lab instance stopped", "instance_id", inst.ID, "owner_id", inst.OwnerID)
}

func (m *Manager) teardownBacking(ctx context.Context, kind, backingRef string, lab *catalog.Lab) error {
	switch kind {
	case store.BackingStack:
		if lab == nil {
			return fmt.Errorf("stack teardown: no catalog entry for %s", backingRef)
		}
		return m.stacks.StopStack(ctx, lab.ID, lab.ComposeFile)
	default:
		if err := m.runtime.StopContainer(ctx, backingRef); err != nil {
			return err
		}
		return m.runtime.RemoveContainer(ctx, backingRef)
	}
}

// ReapExpired force-stops running instances past their expiry deadline.
// This is a hard wall-clock deadline, not an idle timeout: ongoing terminal
// activity does not extend it. Returns the number of instances reaped.
func (m *Manager) ReapExpired(ctx context.Context) int {
	expired, err := m.store.ListExpiredInstances()
	if err != nil {
		m.logger.Error("list expired instances", "error", err)
		return 0
	}

	for _, inst := range expired {
		m.logger.Info("reaping expired instance",
			"instance_id", inst.ID, "owner_id", inst.OwnerID, "expired_at", inst.ExpiresAt)
		m.stopAndRecord(ctx, inst)
	}
	return len(expired)
}

// Reconcile marks running instances whose backing container vanished
// out-of-band (engine restart, manual removal) as stopped. Stacks are left
// alone: the registry is process-local and rebuilt by the next start.
func (m *Manager) Reconcile(ctx context.Context) {
	running, err := m.store.ListRunningInstances()
	if err != nil {
		m.logger.Error("list running instances", "error", err)
		return
	}

	for _, inst := range running {
		if inst.BackingKind != store.BackingContainer || inst.BackingRef == "" {
			continue
		}
		alive, err := m.runtime.IsContainerRunning(ctx, inst.BackingRef)
		if err != nil {
			m.logger.Warn("reconcile: inspect container", "instance_id", inst.ID, "error", err)
			continue
		}
		if !alive {
			m.logger.Warn("reconcile: backing container gone, marking stopped", "instance_id", inst.ID)
			if err := m.store.MarkStopped(inst.ID); err != nil {
				m.logger.Error("reconcile: mark stopped", "instance_id", inst.ID, "error", err)
			}
			m.removePairLock(inst.OwnerID, inst.LabID)
		}
	}
}

// Get returns an instance, enforcing ownership.
func (m *Manager) Get(ctx context.Context, instanceID, requesterID string) (*store.Instance, error) {
	inst, err := m.store.GetInstance(instanceID)
	if err != nil {
		return nil, err
	}
	if inst == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, instanceID)
	}
	if inst.OwnerID != requesterID {
		return nil, fmt.Errorf("%w: %s", ErrOwnership, instanceID)
	}
	return inst, nil
}

// List returns all of an owner's instances, newest first.
func (m *Manager) List(ctx context.Context, ownerID string) ([]*store.Instance, error) {
	return m.store.ListByOwner(ownerID)
}

// Labs returns the lab catalog.
func (m *Manager) Labs(ctx context.Context) []*catalog.Lab {
	return m.catalog.List()
}

// Logs returns the tail of an instance's container output, owner-checked.
func (m *Manager) Logs(ctx context.Context, instanceID, requesterID string, tail int) (string, error) {
	inst, err := m.Get(ctx, instanceID, requesterID)
	if err != nil {
		return "", err
	}
	if inst.BackingKind != store.BackingContainer || inst.BackingRef == "" {
		return "", nil
	}
	return m.runtime.Logs(ctx, inst.BackingRef, tail)
}

// OpenShell validates attach policy and opens an interactive exec session
// inside the instance's container. Refused outright unless the instance is
// Running with a backing container; there is no partial attach.
func (m *Manager) OpenShell(ctx context.Context, instanceID, requesterID string) (*docker.ExecSession, error) {
	inst, err := m.Get(ctx, instanceID, requesterID)
	if err != nil {
		return nil, err
	}
	if inst.Status != store.StatusRunning || inst.BackingRef == "" ||
		inst.BackingKind != store.BackingContainer {
		return nil, fmt.Errorf("%w: %s (status=%s)", ErrNotAttachable, instanceID, inst.Status)
	}
	return m.runtime.ExecShell(ctx, inst.BackingRef, nil)
}
