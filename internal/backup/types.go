package backup

import "time"

// Options configures archive creation.
type Options struct {
	StoreDir   string
	OutputPath string // defaults to lockstep-backup-<timestamp>.tar.gz
}

// Result is returned by Create.
type Result struct {
	ArchivePath string        `json:"archive_path"`
	FileCount   int           `json:"file_count"`
	TotalSize   int64         `json:"total_size"`
	Duration    time.Duration `json:"duration"`
	Warnings    []string      `json:"warnings,omitempty"`
}

// Manifest describes the contents and origin of a backup archive.
type Manifest struct {
	Version    string       `json:"version"`
	Timestamp  time.Time    `json:"timestamp"`
	AppVersion string       `json:"app_version"`
	StoreDir   string       `json:"store_dir"`
	Database   DatabaseInfo `json:"database"`
	Index      IndexInfo    `json:"index"`
}

// DatabaseInfo records metadata about the snapshotted database.
type DatabaseInfo struct {
	Size     int64  `json:"size"`
	Rows     int    `json:"rows"`
	EmbModel string `json:"emb_model,omitempty"`
	EmbDim   string `json:"emb_dim,omitempty"`
}

// IndexInfo records metadata about the vector index file.
type IndexInfo struct {
	Size    int64 `json:"size"`
	Vectors int   `json:"vectors"`
	Dim     int   `json:"dim"`
}

// ListOptions configures archive inspection.
type ListOptions struct {
	ArchivePath string
	JSONOutput  bool
	Verbose     bool
}

// ListResult is returned by List.
type ListResult struct {
	Manifest Manifest    `json:"manifest"`
	Files    []FileEntry `json:"files"`
}

// FileEntry describes a single file in the archive.
type FileEntry struct {
	Path string `json:"path"`
	Size int64  `json:"size"`
	Mode string `json:"mode"`
}
