package camera

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"vigil/internal/database"
	"vigil/internal/monitor"
)

// Registry manages the set of registered cameras, backed by the
// database and mirrored in memory for the monitoring loops
type Registry struct {
	mu       sync.RWMutex
	cameras  map[string]*database.CameraRecord
	order    []string // registration order
	db       *database.Database
	settings monitor.Settings
}

// NewRegistry creates a camera registry and loads persisted cameras
func NewRegistry(db *database.Database, settings monitor.Settings) (*Registry, error) {
	r := &Registry{
		cameras:  make(map[string]*database.CameraRecord),
		db:       db,
		settings: settings,
	}

	if db != nil {
		records, err := db.ListCameras(context.Background())
		if err != nil {
			return nil, fmt.Errorf("failed to load cameras: %w", err)
		}
		for _, record := range records {
			r.cameras[record.ID] = record
			r.order = append(r.order, record.ID)
		}
		log.Printf("[Camera] Loaded %d cameras", len(records))
	}
	return r, nil
}

// Add registers a camera, assigning an ID if none is given
func (r *Registry) Add(ctx context.Context, name, address string) (*database.CameraRecord, error) {
	record := &database.CameraRecord{
		ID:        uuid.NewString(),
		Name:      name,
		Address:   address,
		CreatedAt: time.Now(),
	}

	if r.db != nil {
		if err := r.db.SaveCamera(ctx, record); err != nil {
			return nil, err
		}
	}

	r.mu.Lock()
	r.cameras[record.ID] = record
	r.order = append(r.order, record.ID)
	r.mu.Unlock()

	log.Printf("[Camera] Added camera %s (%s)", record.Name, record.ID)
	return record, nil
}

// Update renames or re-addresses an existing camera
func (r *Registry) Update(ctx context.Context, id, name, address string) (*database.CameraRecord, error) {
	r.mu.Lock()
	record, ok := r.cameras[id]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("camera %s not found", id)
	}

	updated := *record
	updated.Name = name
	updated.Address = address

	if r.db != nil {
		if err := r.db.SaveCamera(ctx, &updated); err != nil {
			return nil, err
		}
	}

	r.mu.Lock()
	r.cameras[id] = &updated
	r.mu.Unlock()
	return &updated, nil
}

// Remove deletes a camera from the registry and the database
func (r *Registry) Remove(ctx context.Context, id string) error {
	r.mu.Lock()
	_, ok := r.cameras[id]
	if ok {
		delete(r.cameras, id)
		for i, existing := range r.order {
			if existing == id {
				r.order = append(r.order[:i], r.order[i+1:]...)
				break
			}
		}
	}
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("camera %s not found", id)
	}
	if r.db != nil {
		if err := r.db.DeleteCamera(ctx, id); err != nil {
			return err
		}
	}
	log.Printf("[Camera] Removed camera %s", id)
	return nil
}

// Get returns one camera by ID
func (r *Registry) Get(id string) (*database.CameraRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	record, ok := r.cameras[id]
	return record, ok
}

// List returns all cameras in registration order
func (r *Registry) List() []*database.CameraRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*database.CameraRecord, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.cameras[id])
	}
	return out
}

// Handles returns monitoring handles for the given camera IDs, in
// registration order. Unknown IDs are skipped.
func (r *Registry) Handles(ids []string) []monitor.CameraHandle {
	wanted := make(map[string]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var handles []monitor.CameraHandle
	for _, id := range r.order {
		if !wanted[id] {
			continue
		}
		record := r.cameras[id]
		handles = append(handles, monitor.CameraHandle{
			ID:      record.ID,
			Name:    record.Name,
			Address: record.Address,
		})
	}
	return handles
}

// AllHandles returns handles for every registered camera
func (r *Registry) AllHandles() []monitor.CameraHandle {
	r.mu.RLock()
	ids := append([]string(nil), r.order...)
	r.mu.RUnlock()
	return r.Handles(ids)
}

func selectionKey(kind monitor.WorkloadKind) string {
	return fmt.Sprintf("workload.%s.cameras", kind)
}

// SaveSelection persists which cameras a workload monitors
func (r *Registry) SaveSelection(ctx context.Context, kind monitor.WorkloadKind, ids []string) error {
	if r.settings == nil {
		return nil
	}

	sort.Strings(ids)
	data, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("failed to marshal camera selection: %w", err)
	}
	return r.settings.SaveSetting(ctx, selectionKey(kind), string(data))
}

// Selection returns the persisted camera selection for a workload.
// An empty selection means every registered camera.
func (r *Registry) Selection(ctx context.Context, kind monitor.WorkloadKind) ([]monitor.CameraHandle, error) {
	if r.settings == nil {
		return r.AllHandles(), nil
	}

	raw, err := r.settings.Setting(ctx, selectionKey(kind))
	if err != nil {
		return nil, fmt.Errorf("failed to load camera selection: %w", err)
	}
	if raw == "" {
		return r.AllHandles(), nil
	}

	var ids []string
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return nil, fmt.Errorf("failed to unmarshal camera selection: %w", err)
	}
	if len(ids) == 0 {
		return r.AllHandles(), nil
	}
	return r.Handles(ids), nil
}
