package tts

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrUnknownVoice is returned when a voice id is not in the catalog.
var ErrUnknownVoice = errors.New("unknown voice")

// manifestNames are tried in order inside the voice directory.
var manifestNames = []string{"voices.yaml", "voices.yml", "voices.json"}

// builtinLabels names the stock voice styles shipped with the model.
var builtinLabels = map[string]string{
	"M1": "Male Voice 1",
	"M2": "Male Voice 2",
	"M3": "Male Voice 3",
	"M4": "Male Voice 4",
	"M5": "Male Voice 5",
	"F1": "Female Voice 1",
	"F2": "Female Voice 2",
	"F3": "Female Voice 3",
	"F4": "Female Voice 4",
	"F5": "Female Voice 5",
}

type Voice struct {
	ID      string `json:"id" yaml:"id"`
	Label   string `json:"label,omitempty" yaml:"label,omitempty"`
	Path    string `json:"path" yaml:"path"`
	License string `json:"license,omitempty" yaml:"license,omitempty"`
}

type voiceManifest struct {
	Voices []Voice `yaml:"voices"`
}

// VoiceCatalog maps voice ids to style files. It is built from a manifest
// when the directory has one, otherwise from every *.json file in it.
type VoiceCatalog struct {
	baseDir string
	voices  []Voice
	byID    map[string]Voice
}

// LoadVoiceCatalog indexes the voice styles in dir.
func LoadVoiceCatalog(dir string) (*VoiceCatalog, error) {
	if dir == "" {
		return nil, errors.New("voice directory is required")
	}

	for _, name := range manifestNames {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return NewVoiceCatalogFromManifest(path)
		}
	}

	return scanVoiceDir(dir)
}

// NewVoiceCatalogFromManifest reads a YAML (or JSON) manifest. Relative
// voice paths resolve against the manifest's directory.
func NewVoiceCatalogFromManifest(manifestPath string) (*VoiceCatalog, error) {
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("read voice manifest: %w", err)
	}

	var manifest voiceManifest

	err = yaml.Unmarshal(data, &manifest)
	if err != nil {
		return nil, fmt.Errorf("decode voice manifest: %w", err)
	}

	return newVoiceCatalog(filepath.Dir(manifestPath), manifest.Voices)
}

func scanVoiceDir(dir string) (*VoiceCatalog, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("scan voice directory: %w", err)
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("no voice styles found in %s", dir)
	}
	slices.Sort(matches)

	voices := make([]Voice, 0, len(matches))
	for _, m := range matches {
		voices = append(voices, Voice{
			ID:   strings.TrimSuffix(filepath.Base(m), filepath.Ext(m)),
			Path: filepath.Base(m),
		})
	}

	return newVoiceCatalog(dir, voices)
}

func newVoiceCatalog(baseDir string, voices []Voice) (*VoiceCatalog, error) {
	c := &VoiceCatalog{
		baseDir: baseDir,
		voices:  make([]Voice, 0, len(voices)),
		byID:    make(map[string]Voice, len(voices)),
	}

	for _, v := range voices {
		if v.ID == "" {
			return nil, errors.New("voice manifest contains empty id")
		}

		if v.Path == "" {
			return nil, fmt.Errorf("voice %q has empty path", v.ID)
		}

		if _, exists := c.byID[v.ID]; exists {
			return nil, fmt.Errorf("duplicate voice id %q", v.ID)
		}

		if v.Label == "" {
			v.Label = builtinLabels[v.ID]
		}
		if v.Label == "" {
			v.Label = v.ID
		}

		c.voices = append(c.voices, v)
		c.byID[v.ID] = v
	}

	return c, nil
}

// ListVoices returns the catalog in manifest (or file name) order.
func (c *VoiceCatalog) ListVoices() []Voice {
	return append([]Voice(nil), c.voices...)
}

// ResolvePath returns the style file for a catalog voice id. Ids outside the
// catalog, file paths included, are rejected.
func (c *VoiceCatalog) ResolvePath(id string) (string, error) {
	v, ok := c.byID[id]
	if !ok {
		return "", fmt.Errorf("%w %q", ErrUnknownVoice, id)
	}

	if filepath.IsAbs(v.Path) {
		return v.Path, nil
	}

	return filepath.Join(c.baseDir, v.Path), nil
}
