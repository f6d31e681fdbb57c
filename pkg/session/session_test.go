package session

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/neuroforge/labmirror/pkg/inventory"
)

func sampleMetadata() Metadata {
	return Metadata{
		Project:      "Maze",
		Animal:       "M042",
		Session:      "2026-08-30_01",
		DateTime:     "2026-08-30T14:00:00",
		Experimenter: "jdoe",
		FileInventory: []inventory.FileRecord{
			{Path: "/raw/Maze/M042/2026-08-30_01/data.bin", SizeBytes: 1024, ServerPath: "/srv/Maze/M042/2026-08-30_01/data.bin"},
		},
	}
}

func TestSaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	want := sampleMetadata()

	if err := Save(dir, want); err != nil {
		t.Fatal(err)
	}

	for _, name := range []string{MetaFileJSON, MetaFileYAML} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("expected %s to exist: %v", name, err)
		}
	}

	got, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if got.Project != want.Project || got.Animal != want.Animal || got.Session != want.Session {
		t.Errorf("round trip mismatch: got %+v", got)
	}
	if len(got.FileInventory) != 1 || got.FileInventory[0].ServerPath != want.FileInventory[0].ServerPath {
		t.Errorf("file inventory mismatch: got %+v", got.FileInventory)
	}
}

func TestLoad_YAMLFallback(t *testing.T) {
	dir := t.TempDir()
	yamlDoc := "project: Maze\nanimal: M042\nsession: s1\nfile_list:\n  - path: /raw/a\n    size: 3\n    server_path: /srv/a\n"
	if err := os.WriteFile(filepath.Join(dir, MetaFileYAML), []byte(yamlDoc), 0644); err != nil {
		t.Fatal(err)
	}

	got, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if got.Project != "Maze" || got.Session != "s1" {
		t.Errorf("unexpected metadata: %+v", got)
	}
	if len(got.FileInventory) != 1 || got.FileInventory[0].SizeBytes != 3 {
		t.Errorf("unexpected inventory: %+v", got.FileInventory)
	}
}

func TestLoad_JSONTakesPrecedence(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, MetaFileJSON), []byte(`{"project":"FromJSON","animal":"a","session":"s","file_list":[]}`), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, MetaFileYAML), []byte("project: FromYAML\n"), 0644); err != nil {
		t.Fatal(err)
	}

	got, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if got.Project != "FromJSON" {
		t.Errorf("expected JSON descriptor to win, got project %q", got.Project)
	}
}

func TestLoad_Missing(t *testing.T) {
	_, err := Load(t.TempDir())
	if !os.IsNotExist(err) {
		t.Fatalf("expected os.IsNotExist error, got %v", err)
	}
}

func TestLoad_CorruptJSON(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, MetaFileJSON), []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(dir); err == nil {
		t.Fatal("expected error for corrupt descriptor")
	}
}

func TestSave_LeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	if err := Save(dir, sampleMetadata()); err != nil {
		t.Fatal(err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Errorf("expected exactly the two descriptor files, got %d entries", len(entries))
	}
}
