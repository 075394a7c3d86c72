package scene

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/zeusync/crdtsync/internal/core/crdt/pool"
	"github.com/zeusync/crdtsync/internal/core/observability/log"
)

// SnapshotStore persists encoded scene states between runs.
type SnapshotStore interface {
	Load(ctx context.Context, id string) ([]byte, bool, error)
	Save(ctx context.Context, id string, data []byte) error
	Delete(ctx context.Context, id string) error
}

// Hub owns every open scene.
type Hub struct {
	mx        sync.RWMutex
	scenes    map[ID]*Scene
	config    Config
	snapshots SnapshotStore
	base      log.Log
	logger    log.Log
}

type HubOption func(*Hub)

// WithSharedPool makes every scene rent from one mutex-guarded arena instead
// of a private one.
func WithSharedPool() HubOption {
	return func(h *Hub) {
		h.config.Allocator = pool.NewLocked(pool.NewArena(h.config.Pool, pool.WithLogger(h.base)))
	}
}

// WithSnapshots restores scenes on Open and persists them on Close.
func WithSnapshots(store SnapshotStore) HubOption {
	return func(h *Hub) {
		h.snapshots = store
	}
}

func NewHub(cfg Config, logger log.Log, opts ...HubOption) *Hub {
	if logger == nil {
		logger = log.Nop()
	}
	h := &Hub{
		scenes: make(map[ID]*Scene),
		config: cfg,
		base:   logger,
		logger: logger.With(log.String("component", "scene_hub")),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Open returns the scene with the given id, creating and restoring it when
// needed. An empty id gets a generated one. The snapshot is loaded without
// holding the hub lock; if two callers race, the first registered scene wins.
func (h *Hub) Open(ctx context.Context, id ID) (*Scene, error) {
	if id == "" {
		id = NewID()
	}
	if s, ok := h.Get(id); ok {
		return s, nil
	}

	s := New(id, h.config, h.base)
	restored := false
	if h.snapshots != nil {
		data, found, err := h.snapshots.Load(ctx, string(id))
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("load snapshot %s: %w", id, err)
		}
		if found {
			if err := s.Restore(data); err != nil {
				s.Close()
				return nil, fmt.Errorf("restore snapshot %s: %w", id, err)
			}
			restored = true
		}
	}

	h.mx.Lock()
	defer h.mx.Unlock()

	if existing, ok := h.scenes[id]; ok {
		s.Close()
		return existing, nil
	}
	h.scenes[id] = s
	h.logger.Info("scene opened", log.String("scene", string(id)), log.Bool("restored", restored))
	return s, nil
}

func (h *Hub) Get(id ID) (*Scene, bool) {
	h.mx.RLock()
	defer h.mx.RUnlock()

	s, ok := h.scenes[id]
	return s, ok
}

// IDs lists the open scenes, sorted.
func (h *Hub) IDs() []ID {
	h.mx.RLock()
	defer h.mx.RUnlock()

	ids := make([]ID, 0, len(h.scenes))
	for id := range h.scenes {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Close persists the scene (when snapshots are configured) and releases it.
// The state is captured and the scene closed atomically, so writers still
// holding the scene either land in the snapshot or get ErrSceneClosed.
func (h *Hub) Close(ctx context.Context, id ID) error {
	s, ok := h.detach(id)
	if !ok {
		return ErrSceneNotFound
	}
	if h.snapshots == nil {
		s.Close()
		return nil
	}

	data, err := s.CloseWithState()
	if err != nil {
		return fmt.Errorf("encode scene %s: %w", id, err)
	}
	if err := h.snapshots.Save(ctx, string(id), data); err != nil {
		return fmt.Errorf("save snapshot %s: %w", id, err)
	}
	return nil
}

// Drop releases the scene and forgets its snapshot.
func (h *Hub) Drop(ctx context.Context, id ID) error {
	s, ok := h.detach(id)
	if ok {
		s.Close()
	}
	if h.snapshots != nil {
		if err := h.snapshots.Delete(ctx, string(id)); err != nil {
			return fmt.Errorf("delete snapshot %s: %w", id, err)
		}
	} else if !ok {
		return ErrSceneNotFound
	}
	return nil
}

func (h *Hub) detach(id ID) (*Scene, bool) {
	h.mx.Lock()
	defer h.mx.Unlock()

	s, ok := h.scenes[id]
	if ok {
		delete(h.scenes, id)
		h.logger.Info("scene closed", log.String("scene", string(id)))
	}
	return s, ok
}

// Dispatch applies one batch per scene. Different scenes are processed in
// parallel; each scene still sees a single writer.
func (h *Hub) Dispatch(ctx context.Context, batches map[ID][]byte) (map[ID]Report, error) {
	var (
		mx      sync.Mutex
		reports = make(map[ID]Report, len(batches))
	)

	g, ctx := errgroup.WithContext(ctx)
	for id, batch := range batches {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			s, err := h.Open(ctx, id)
			if err != nil {
				return err
			}
			report, err := s.Receive(batch)
			if err != nil {
				return fmt.Errorf("scene %s: %w", id, err)
			}

			mx.Lock()
			reports[id] = report
			mx.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return reports, err
	}
	return reports, nil
}

// Shutdown closes every scene, persisting them when snapshots are configured.
func (h *Hub) Shutdown(ctx context.Context) error {
	var errs []error
	for _, id := range h.IDs() {
		if err := h.Close(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("shutdown: %d scenes failed, first: %w", len(errs), errs[0])
	}
	return nil
}
