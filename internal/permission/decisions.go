package permission

import (
	"errors"
	"sync"

	"github.com/ayusman/janken/internal/store"
)

// SettingKey is the settings entry holding the user's decision.
const SettingKey = "camera.permission"

// Decisions persists the user's answer.
type Decisions interface {
	// Decision returns NotDetermined when the user was never asked.
	Decision() (Status, error)
	Record(s Status) error
}

// MemoryDecisions keeps the decision for the life of the process.
type MemoryDecisions struct {
	mu     sync.Mutex
	status Status
}

func (m *MemoryDecisions) Decision() (Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status, nil
}

func (m *MemoryDecisions) Record(s Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status = s
	return nil
}

// Settings is the part of the settings repository used for decisions.
type Settings interface {
	Get(key string) (string, error)
	Set(key, value string) error
	Delete(key string) error
}

// StoreDecisions keeps the decision in the settings table.
type StoreDecisions struct {
	settings Settings
}

// NewStoreDecisions persists decisions in settings.
func NewStoreDecisions(settings Settings) *StoreDecisions {
	return &StoreDecisions{settings: settings}
}

func (d *StoreDecisions) Decision() (Status, error) {
	value, err := d.settings.Get(SettingKey)
	if errors.Is(err, store.ErrNotFound) {
		return NotDetermined, nil
	}
	if err != nil {
		return NotDetermined, err
	}
	return ParseStatus(value)
}

// Record stores s. Recording NotDetermined forgets the decision.
func (d *StoreDecisions) Record(s Status) error {
	if s == NotDetermined {
		return d.settings.Delete(SettingKey)
	}
	return d.settings.Set(SettingKey, s.String())
}
