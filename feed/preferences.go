package feed

import (
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/domody/syris/errors"
	"github.com/domody/syris/protocol"
	"github.com/domody/syris/store"
)

// Preferences are the user's view filters. They are the only state that
// may outlive the process; event data never does.
type Preferences struct {
	Kinds  []protocol.EventKind `json:"kinds,omitempty" yaml:"kinds,omitempty"`
	Levels []protocol.Level     `json:"levels,omitempty" yaml:"levels,omitempty"`
	Search string               `json:"search,omitempty" yaml:"search,omitempty"`
}

// Filter converts the preferences into a store filter.
func (p Preferences) Filter() store.Filter {
	return store.Filter{
		Kinds:  append([]protocol.EventKind(nil), p.Kinds...),
		Levels: append([]protocol.Level(nil), p.Levels...),
		Search: p.Search,
	}
}

// Validate rejects unknown kinds and levels.
func (p Preferences) Validate() error {
	for _, k := range p.Kinds {
		if !k.Valid() {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "Preferences", "Validate", "check kind "+string(k))
		}
	}
	for _, l := range p.Levels {
		if !l.Valid() {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "Preferences", "Validate", "check level "+string(l))
		}
	}
	return nil
}

// LoadPreferences reads preferences from a YAML file. A missing file
// yields empty preferences.
func LoadPreferences(path string) (Preferences, error) {
	var p Preferences
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return p, nil
	}
	if err != nil {
		return p, errors.WrapTransient(err, "feed", "LoadPreferences", "read file")
	}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Preferences{}, errors.WrapInvalid(err, "feed", "LoadPreferences", "parse yaml")
	}
	if err := p.Validate(); err != nil {
		return Preferences{}, err
	}
	return p, nil
}

// SavePreferences writes preferences to path, replacing the file
// atomically.
func SavePreferences(path string, p Preferences) error {
	data, err := yaml.Marshal(p)
	if err != nil {
		return errors.Wrap(err, "feed", "SavePreferences", "marshal yaml")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.WrapTransient(err, "feed", "SavePreferences", "create directory")
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.WrapTransient(err, "feed", "SavePreferences", "write file")
	}
	if err := os.Rename(tmp, path); err != nil {
		return errors.WrapTransient(err, "feed", "SavePreferences", "rename file")
	}
	return nil
}
