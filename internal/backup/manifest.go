package backup

import (
	"encoding/json"
	"fmt"
	"time"

	"lockstep/internal/version"
)

const ManifestVersion = "1.0"

func newManifest(storeDir string, db DatabaseInfo, idx IndexInfo) *Manifest {
	return &Manifest{
		Version:    ManifestVersion,
		Timestamp:  time.Now().UTC(),
		AppVersion: version.Full(),
		StoreDir:   storeDir,
		Database:   db,
		Index:      idx,
	}
}

// ValidateManifest checks that a manifest came from a compatible build.
func ValidateManifest(m *Manifest) error {
	if m.Version == "" {
		return fmt.Errorf("manifest missing version")
	}
	if m.Version != ManifestVersion {
		return fmt.Errorf("unsupported manifest version %q (expected %q)", m.Version, ManifestVersion)
	}
	if m.Timestamp.IsZero() {
		return fmt.Errorf("manifest missing timestamp")
	}
	return nil
}

// MarshalManifest serializes a manifest to indented JSON.
func MarshalManifest(m *Manifest) ([]byte, error) {
	return json.MarshalIndent(m, "", "  ")
}

// UnmarshalManifest deserializes a manifest from JSON.
func UnmarshalManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("invalid manifest JSON: %w", err)
	}
	return &m, nil
}
