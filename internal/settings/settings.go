package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	kjson "github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"batchgen/internal/batch"
	"batchgen/internal/credentials"
)

// Settings is the user-editable settings file.
type Settings struct {
	StorageRoot string       `koanf:"storage_root" json:"storage_root,omitempty"`
	Platform    string       `koanf:"platform" json:"platform,omitempty"`
	Credentials []Credential `koanf:"credentials" json:"credentials,omitempty"`
	Defaults    Defaults     `koanf:"defaults" json:"defaults"`
}

type Credential struct {
	Name     string `koanf:"name" json:"name"`
	Platform string `koanf:"platform" json:"platform,omitempty"`
	Secret   string `koanf:"secret" json:"secret"`
}

// Defaults fill in generation parameters a row leaves blank.
type Defaults struct {
	Ratio     string         `koanf:"ratio" json:"ratio,omitempty"`
	Watermark string         `koanf:"watermark" json:"watermark,omitempty"`
	Translate string         `koanf:"translate" json:"translate,omitempty"`
	Extra     map[string]any `koanf:"extra" json:"extra,omitempty"`
}

// Load reads the settings file at path. A missing file yields empty settings.
func Load(path string) (*Settings, error) {
	var s Settings
	path = strings.TrimSpace(path)
	if path == "" {
		return &s, nil
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &s, nil
		}
		return nil, fmt.Errorf("settings: stat %s: %w", path, err)
	}

	k := koanf.New(".")
	if err := k.Load(file.Provider(path), kjson.Parser()); err != nil {
		return nil, fmt.Errorf("settings: load %s: %w", path, err)
	}
	if err := k.Unmarshal("", &s); err != nil {
		return nil, fmt.Errorf("settings: decode %s: %w", path, err)
	}
	return &s, nil
}

// Save writes s to path, replacing the previous file.
func Save(path string, s *Settings) error {
	raw, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("settings: encode: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("settings: ensure directory: %w", err)
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(raw, '\n'), 0o600); err != nil {
		return fmt.Errorf("settings: write: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("settings: finalize: %w", err)
	}
	return nil
}

// AddCredential stores c, replacing an entry with the same name and platform.
func (s *Settings) AddCredential(c Credential) error {
	c.Name = strings.TrimSpace(c.Name)
	c.Platform = strings.TrimSpace(c.Platform)
	c.Secret = strings.TrimSpace(c.Secret)
	if c.Name == "" || c.Secret == "" {
		return errors.New("settings: credential name and secret are required")
	}
	for i, existing := range s.Credentials {
		if existing.Name == c.Name && strings.EqualFold(existing.Platform, c.Platform) {
			s.Credentials[i] = c
			return nil
		}
	}
	s.Credentials = append(s.Credentials, c)
	return nil
}

// CredentialSource exposes the listed credentials to the pool. Entries
// without a platform inherit the file-level one.
func (s *Settings) CredentialSource() credentials.SettingsSource {
	entries := make([]credentials.Entry, 0, len(s.Credentials))
	for _, c := range s.Credentials {
		platform := c.Platform
		if platform == "" {
			platform = s.Platform
		}
		entries = append(entries, credentials.Entry{Name: c.Name, Secret: c.Secret, Platform: platform})
	}
	return credentials.SettingsSource{Entries: entries}
}

// Apply fills the blank fields of in from d. Values already on the row win.
func (d Defaults) Apply(in *batch.Input) {
	if in == nil {
		return
	}
	if strings.TrimSpace(in.Ratio) == "" {
		in.Ratio = d.Ratio
	}
	if strings.TrimSpace(in.Watermark) == "" {
		in.Watermark = d.Watermark
	}
	if in.Translate == "" {
		in.Translate = batch.ParseTranslateMode(d.Translate)
	}
	if len(d.Extra) == 0 {
		return
	}
	if in.Extra == nil {
		in.Extra = make(map[string]any, len(d.Extra))
	}
	for k, v := range d.Extra {
		if _, ok := in.Extra[k]; !ok {
			in.Extra[k] = v
		}
	}
}
