// Package inventory maintains the per-session file inventory: the list of
// files that belong to a recording session, their sizes, and where each
// file lives on the server mirror.
package inventory

// FileRecord describes one file belonging to a session. Path and
// ServerPath are absolute; SizeBytes is the size observed when the record
// was created or last reconciled.
type FileRecord struct {
	Path       string `json:"path" yaml:"path"`
	SizeBytes  int64  `json:"size" yaml:"size"`
	ServerPath string `json:"server_path" yaml:"server_path"`
}
