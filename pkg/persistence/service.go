package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/cuemby/nimbus/pkg/log"
	"github.com/cuemby/nimbus/pkg/metrics"
	"github.com/cuemby/nimbus/pkg/model"
	bolt "go.etcd.io/bbolt"
)

const (
	currentStorageVersion = 1
	fileName              = "nimbus.db"
)

var (
	bucketDeployment = []byte("deployment")
	keyCurrent       = []byte("current")
)

// envelope is the on-disk representation of the desired Deployment: a
// versioned wrapper so future encodings can be rejected cleanly instead
// of silently misread (spec.md §4.1).
type envelope struct {
	Version    int             `json:"version"`
	Deployment json.RawMessage `json:"deployment"`
}

// Listener is invoked, in registration order, after every successful
// Save.
type Listener func(model.Deployment)

// ListenerHandle cancels a registered listener.
type ListenerHandle struct {
	id      uint64
	service *Service
}

// Cancel removes the listener. Calling it more than once is a no-op.
func (h ListenerHandle) Cancel() {
	h.service.removeListener(h.id)
}

// Service owns the authoritative desired Deployment.
type Service struct {
	db *bolt.DB

	cacheMu sync.RWMutex
	cached  model.Deployment

	saveMu sync.Mutex

	listenersMu sync.RWMutex
	listeners   map[uint64]Listener
	nextID      uint64
}

// Open loads the desired Deployment from dataDir, creating an empty one
// if none exists yet. The returned Service is ready for Get and Save.
func Open(dataDir string) (*Service, error) {
	dbPath := filepath.Join(dataDir, fileName)
	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, &model.PersistenceError{Op: "open", Cause: err}
	}

	s := &Service{
		db:        db,
		cached:    model.Empty,
		listeners: make(map[uint64]Listener),
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucketDeployment)
		if err != nil {
			return err
		}
		data := b.Get(keyCurrent)
		if data == nil {
			return nil
		}
		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			return fmt.Errorf("corrupt deployment envelope: %w", err)
		}
		if env.Version != currentStorageVersion {
			return fmt.Errorf("unsupported deployment storage version %d", env.Version)
		}
		var deployment model.Deployment
		if err := model.UnmarshalCanonical(env.Deployment, &deployment); err != nil {
			return fmt.Errorf("corrupt deployment payload: %w", err)
		}
		s.cached = deployment
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, &model.PersistenceError{Op: "load", Cause: err}
	}

	metrics.RegisterComponent("persistence", true, "")
	log.WithComponent("persistence").Info().Str("data_dir", dataDir).Msg("loaded desired deployment")
	return s, nil
}

// Close releases the underlying database handle.
func (s *Service) Close() error {
	return s.db.Close()
}

// Get returns the currently loaded Deployment. It never fails: absent
// any Save, it returns an empty Deployment.
func (s *Service) Get() model.Deployment {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	return s.cached
}

// Save atomically replaces the stored Deployment. It blocks until the
// new value is durable, then invokes every registered listener, in
// registration order, before returning. Concurrent callers are
// serialized and observe their saves applied in submission order.
func (s *Service) Save(ctx context.Context, deployment model.Deployment) error {
	if err := deployment.Validate(); err != nil {
		return err
	}

	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.PersistenceSaveDuration)

	payload, err := model.MarshalCanonical(deployment)
	if err != nil {
		metrics.PersistenceSaveErrorsTotal.Inc()
		return &model.PersistenceError{Op: "encode", Cause: err}
	}
	env := envelope{Version: currentStorageVersion, Deployment: payload}
	data, err := json.Marshal(env)
	if err != nil {
		metrics.PersistenceSaveErrorsTotal.Inc()
		return &model.PersistenceError{Op: "encode", Cause: err}
	}

	if err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDeployment)
		return b.Put(keyCurrent, data)
	}); err != nil {
		metrics.PersistenceSaveErrorsTotal.Inc()
		log.WithComponent("persistence").Error().Err(err).Msg("failed to save deployment")
		return &model.PersistenceError{Op: "write", Cause: err}
	}

	s.cacheMu.Lock()
	s.cached = deployment
	s.cacheMu.Unlock()

	s.notifyListeners(deployment)
	return nil
}

// RegisterListener adds a listener invoked after every successful Save.
// The returned handle cancels it.
func (s *Service) RegisterListener(l Listener) ListenerHandle {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	s.nextID++
	id := s.nextID
	s.listeners[id] = l
	return ListenerHandle{id: id, service: s}
}

func (s *Service) removeListener(id uint64) {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	delete(s.listeners, id)
}

// notifyListeners calls every listener synchronously, in ascending
// registration-id order, while the caller still holds saveMu — this is
// what makes "notified ... before completion resolves, in registration
// order" true without a separate notification queue.
func (s *Service) notifyListeners(deployment model.Deployment) {
	s.listenersMu.RLock()
	ids := make([]uint64, 0, len(s.listeners))
	for id := range s.listeners {
		ids = append(ids, id)
	}
	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			if ids[j] < ids[i] {
				ids[i], ids[j] = ids[j], ids[i]
			}
		}
	}
	callbacks := make([]Listener, 0, len(ids))
	for _, id := range ids {
		callbacks = append(callbacks, s.listeners[id])
	}
	s.listenersMu.RUnlock()

	for _, l := range callbacks {
		l(deployment)
	}
}
