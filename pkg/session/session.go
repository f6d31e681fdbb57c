// Package session reads and writes the per-session metadata descriptor
// that sits next to a session's recorded files. The canonical form is
// JSON; a YAML sidecar is written alongside it for tools that prefer it,
// and either form can be loaded.
package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/neuroforge/labmirror/pkg/inventory"
	"github.com/neuroforge/labmirror/pkg/util"
)

const (
	// MetaFileJSON is the canonical session descriptor file name.
	MetaFileJSON = "metadata.json"
	// MetaFileYAML is the YAML sidecar written next to the JSON descriptor.
	MetaFileYAML = "metadata.yaml"
)

// Metadata holds the descriptive fields of one recording session plus the
// inventory of files that belong to it.
type Metadata struct {
	Project      string `json:"project" yaml:"project"`
	Animal       string `json:"animal" yaml:"animal"`
	Session      string `json:"session" yaml:"session"`
	DateTime     string `json:"date_time,omitempty" yaml:"date_time,omitempty"`
	Recording    string `json:"recording,omitempty" yaml:"recording,omitempty"`
	Experiment   string `json:"experiment,omitempty" yaml:"experiment,omitempty"`
	Experimenter string `json:"experimenter,omitempty" yaml:"experimenter,omitempty"`
	Condition    string `json:"condition,omitempty" yaml:"condition,omitempty"`
	Comments     string `json:"comments,omitempty" yaml:"comments,omitempty"`

	FileInventory []inventory.FileRecord `json:"file_list" yaml:"file_list"`
}

// Load reads the session descriptor from sessionDir, preferring the JSON
// form and falling back to the YAML sidecar. When neither file exists
// the returned error satisfies os.IsNotExist.
func Load(sessionDir string) (Metadata, error) {
	jsonPath := filepath.Join(sessionDir, MetaFileJSON)
	data, err := os.ReadFile(jsonPath)
	if err == nil {
		var md Metadata
		if jsonErr := json.Unmarshal(data, &md); jsonErr != nil {
			return Metadata{}, fmt.Errorf("could not parse session descriptor %s: %w. It may be corrupt", jsonPath, jsonErr)
		}
		return md, nil
	}
	if !os.IsNotExist(err) {
		return Metadata{}, err
	}

	yamlPath := filepath.Join(sessionDir, MetaFileYAML)
	data, err = os.ReadFile(yamlPath)
	if err != nil {
		// Note: os.IsNotExist errors are handled by the caller.
		return Metadata{}, err
	}
	var md Metadata
	if yamlErr := yaml.Unmarshal(data, &md); yamlErr != nil {
		return Metadata{}, fmt.Errorf("could not parse session descriptor %s: %w. It may be corrupt", yamlPath, yamlErr)
	}
	return md, nil
}

// Save writes the session descriptor into sessionDir, both the JSON
// canonical form and the YAML sidecar. Each file is written to a
// temporary sibling first and renamed into place so a crash never leaves
// a half-written descriptor behind.
func Save(sessionDir string, md Metadata) error {
	jsonData, err := json.MarshalIndent(md, "", "  ")
	if err != nil {
		return fmt.Errorf("could not marshal session descriptor: %w", err)
	}
	if err := writeAtomic(filepath.Join(sessionDir, MetaFileJSON), jsonData); err != nil {
		return err
	}

	yamlData, err := yaml.Marshal(md)
	if err != nil {
		return fmt.Errorf("could not marshal session descriptor: %w", err)
	}
	return writeAtomic(filepath.Join(sessionDir, MetaFileYAML), yamlData)
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("could not create temp file for %s: %w", path, err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("could not write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("could not write %s: %w", path, err)
	}
	if err := os.Chmod(tmpPath, util.UserWritableFilePerms); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("could not set permissions on %s: %w", path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("could not replace %s: %w", path, err)
	}
	return nil
}
