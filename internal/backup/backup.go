// Package backup snapshots a store directory into a tar.gz archive: a
// compacted copy of the SQLite database, the vector index file and a
// manifest describing both.
package backup

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"lockstep/internal/engine"
	"lockstep/internal/index"
	"lockstep/internal/store"
)

// Create produces a .tar.gz archive of the store directory.
func Create(ctx context.Context, opts Options) (*Result, error) {
	start := time.Now()

	storeDir, err := filepath.Abs(opts.StoreDir)
	if err != nil {
		return nil, fmt.Errorf("resolve store dir: %w", err)
	}
	dbPath := filepath.Join(storeDir, engine.DBFile)
	indexPath := filepath.Join(storeDir, engine.IndexFile)

	if _, err := os.Stat(dbPath); err != nil {
		return nil, fmt.Errorf("store database: %w", err)
	}

	// Snapshot the database to a temp file first so the archive never
	// sees a half-written page.
	tmpDir, err := os.MkdirTemp("", "lockstep-backup-*")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	snapshotPath := filepath.Join(tmpDir, engine.DBFile)
	dbInfo, err := snapshotDatabase(ctx, dbPath, snapshotPath)
	if err != nil {
		return nil, fmt.Errorf("snapshot database: %w", err)
	}

	idxInfo, haveIndex := readIndexInfo(indexPath)

	manifest := newManifest(storeDir, dbInfo, idxInfo)

	outPath := opts.OutputPath
	if outPath == "" {
		outPath = fmt.Sprintf("lockstep-backup-%s.tar.gz", time.Now().Format("20060102-150405"))
	}
	outPath, err = filepath.Abs(outPath)
	if err != nil {
		return nil, fmt.Errorf("resolve output path: %w", err)
	}

	result := &Result{ArchivePath: outPath}

	outFile, err := os.Create(outPath)
	if err != nil {
		return nil, fmt.Errorf("create output file: %w", err)
	}
	defer outFile.Close()

	gw := gzip.NewWriter(outFile)
	defer gw.Close()

	tw := tar.NewWriter(gw)
	defer tw.Close()

	manifestData, err := MarshalManifest(manifest)
	if err != nil {
		return nil, fmt.Errorf("marshal manifest: %w", err)
	}
	if err := writeTarBytes(tw, "manifest.json", manifestData); err != nil {
		return nil, fmt.Errorf("write manifest: %w", err)
	}
	result.FileCount++

	if err := writeTarFile(tw, "store/"+engine.DBFile, snapshotPath); err != nil {
		return nil, fmt.Errorf("write database: %w", err)
	}
	result.FileCount++

	if haveIndex {
		if err := writeTarFile(tw, "store/"+engine.IndexFile, indexPath); err != nil {
			return nil, fmt.Errorf("write index: %w", err)
		}
		result.FileCount++
	} else {
		result.Warnings = append(result.Warnings, fmt.Sprintf("index file not found: %s", indexPath))
	}

	// Close writers to flush and get the final size.
	tw.Close()
	gw.Close()
	outFile.Close()

	if stat, err := os.Stat(outPath); err == nil {
		result.TotalSize = stat.Size()
	}
	result.Duration = time.Since(start)

	return result, nil
}

// snapshotDatabase writes a clean copy of the database via VACUUM INTO,
// falling back to a plain file copy.
func snapshotDatabase(ctx context.Context, srcPath, dstPath string) (DatabaseInfo, error) {
	info := DatabaseInfo{}

	stat, err := os.Stat(srcPath)
	if err != nil {
		return info, fmt.Errorf("stat database: %w", err)
	}
	info.Size = stat.Size()

	st, err := store.Open(srcPath)
	if err != nil {
		// Unreadable as a store; archive the raw bytes instead.
		if err := copyFile(srcPath, dstPath); err != nil {
			return info, fmt.Errorf("copy database: %w", err)
		}
		return info, nil
	}
	defer st.Close()

	if n, err := st.RowCount(ctx); err == nil {
		info.Rows = n
	}
	if v, err := st.GetMeta(ctx, store.MetaModel); err == nil {
		info.EmbModel = v
	}
	if v, err := st.GetMeta(ctx, store.MetaDim); err == nil {
		info.EmbDim = v
	}

	if err := st.VacuumInto(ctx, dstPath); err == nil {
		return info, nil
	}
	if err := copyFile(srcPath, dstPath); err != nil {
		return info, fmt.Errorf("copy database: %w", err)
	}
	return info, nil
}

// readIndexInfo stats the index file and, when it parses, records its
// vector count and dimension.
func readIndexInfo(path string) (IndexInfo, bool) {
	info := IndexInfo{}
	stat, err := os.Stat(path)
	if err != nil {
		return info, false
	}
	info.Size = stat.Size()

	if idx, err := index.Load(path); err == nil {
		info.Vectors = idx.Total()
		info.Dim = idx.Dim()
	}
	return info, true
}

// writeTarBytes writes in-memory data as a tar entry.
func writeTarBytes(tw *tar.Writer, name string, data []byte) error {
	hdr := &tar.Header{
		Name:    name,
		Mode:    0644,
		Size:    int64(len(data)),
		ModTime: time.Now(),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err := tw.Write(data)
	return err
}

// writeTarFile adds a file from disk to the tar archive.
func writeTarFile(tw *tar.Writer, archivePath, diskPath string) error {
	fi, err := os.Stat(diskPath)
	if err != nil {
		return err
	}

	hdr := &tar.Header{
		Name:    archivePath,
		Mode:    int64(fi.Mode().Perm()),
		Size:    fi.Size(),
		ModTime: fi.ModTime(),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}

	f, err := os.Open(diskPath)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = io.Copy(tw, f)
	return err
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
