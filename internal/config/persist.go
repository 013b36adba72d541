package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const settingsFileName = "settings.json"

// TLinkSection is the "DSC.TLink" section of the persisted settings file.
type TLinkSection struct {
	IntegrationID   string `json:"integration_id"`
	Type1AccessCode string `json:"type1_access_code"`
	Type2AccessCode string `json:"type2_access_code"`
	Port            int    `json:"port"`
}

const tlinkSectionName = "DSC.TLink"

// Persist is the reloadable settings store: a single JSON document under
// the persist directory, top-level object keyed by section name.
type Persist struct {
	dir string

	mu       sync.RWMutex
	sections map[string]json.RawMessage
}

func NewPersist(dir string) *Persist {
	return &Persist{
		dir:      dir,
		sections: make(map[string]json.RawMessage),
	}
}

// Load reads the settings file. A missing file is not an error; sections
// simply stay empty until first Save.
func (p *Persist) Load() error {
	data, err := os.ReadFile(p.path())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read settings file: %v", err)
	}

	sections := make(map[string]json.RawMessage)
	if err := json.Unmarshal(data, &sections); err != nil {
		return fmt.Errorf("failed to parse settings file: %v", err)
	}

	p.mu.Lock()
	p.sections = sections
	p.mu.Unlock()
	return nil
}

// Reload is Load; the name marks call sites that pick up external edits.
func (p *Persist) Reload() error {
	return p.Load()
}

// Section unmarshals the named section into out. Returns false when the
// section is absent.
func (p *Persist) Section(name string, out interface{}) (bool, error) {
	p.mu.RLock()
	raw, ok := p.sections[name]
	p.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("failed to parse section %q: %v", name, err)
	}
	return true, nil
}

// SetSection replaces the named section and writes the file.
func (p *Persist) SetSection(name string, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal section %q: %v", name, err)
	}

	p.mu.Lock()
	p.sections[name] = raw
	data, err := json.MarshalIndent(p.sections, "", "  ")
	p.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %v", err)
	}

	if err := os.MkdirAll(p.dir, 0755); err != nil {
		return fmt.Errorf("failed to create persist directory: %v", err)
	}
	if err := os.WriteFile(p.path(), data, 0644); err != nil {
		return fmt.Errorf("failed to write settings file: %v", err)
	}
	return nil
}

// TLink returns the panel-link credentials section, with ok=false when the
// section has never been written.
func (p *Persist) TLink() (TLinkSection, bool, error) {
	var s TLinkSection
	ok, err := p.Section(tlinkSectionName, &s)
	return s, ok, err
}

// SetTLink stores the panel-link credentials section.
func (p *Persist) SetTLink(s TLinkSection) error {
	return p.SetSection(tlinkSectionName, s)
}

func (p *Persist) path() string {
	return filepath.Join(p.dir, settingsFileName)
}
