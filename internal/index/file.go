package index

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"math"
	"os"
	"path/filepath"
)

// On-disk layout, all little-endian:
//
//	magic [4]byte, version uint32, dim uint32, count uint64,
//	count*dim float32 values, crc32 (IEEE) of everything before it.
var fileMagic = [4]byte{'L', 'S', 'V', 'I'}

const fileVersion uint32 = 1

const headerSize = 4 + 4 + 4 + 8

// Save writes the index to path atomically: the bytes go to a temp
// file in the same directory which is then renamed over the target.
// A reader holding the old file keeps a consistent old snapshot.
func (f *Flat) Save(path string) error {
	return saveToFile(path, func(w io.Writer) error {
		sum := crc32.NewIEEE()
		tee := io.MultiWriter(w, sum)

		if _, err := tee.Write(fileMagic[:]); err != nil {
			return err
		}
		if err := binary.Write(tee, binary.LittleEndian, fileVersion); err != nil {
			return err
		}
		if err := binary.Write(tee, binary.LittleEndian, uint32(f.dim)); err != nil {
			return err
		}
		if err := binary.Write(tee, binary.LittleEndian, uint64(f.Total())); err != nil {
			return err
		}
		if err := binary.Write(tee, binary.LittleEndian, f.data); err != nil {
			return err
		}

		// Checksum goes to the file only.
		return binary.Write(w, binary.LittleEndian, sum.Sum32())
	})
}

// Load reads an index file written by Save, validating structure and
// checksum. Corruption is reported as ErrCorrupt.
func Load(path string) (*Flat, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if len(raw) < headerSize+4 {
		return nil, fmt.Errorf("%w: %d bytes is shorter than any valid index", ErrCorrupt, len(raw))
	}
	if [4]byte(raw[:4]) != fileMagic {
		return nil, fmt.Errorf("%w: bad magic", ErrCorrupt)
	}
	if v := binary.LittleEndian.Uint32(raw[4:8]); v != fileVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, v)
	}

	dim := int(binary.LittleEndian.Uint32(raw[8:12]))
	count := int(binary.LittleEndian.Uint64(raw[12:20]))
	if dim <= 0 || count < 0 {
		return nil, fmt.Errorf("%w: dim=%d count=%d", ErrCorrupt, dim, count)
	}
	if want := headerSize + count*dim*4 + 4; len(raw) != want {
		return nil, fmt.Errorf("%w: file is %d bytes, header implies %d", ErrCorrupt, len(raw), want)
	}

	body := raw[:len(raw)-4]
	stored := binary.LittleEndian.Uint32(raw[len(raw)-4:])
	if got := crc32.ChecksumIEEE(body); got != stored {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrCorrupt)
	}

	data := make([]float32, count*dim)
	for i := range data {
		off := headerSize + i*4
		data[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[off : off+4]))
	}

	return &Flat{dim: dim, data: data}, nil
}

// saveToFile writes through a temp file in the target directory so the
// final rename is atomic, then fsyncs file and directory.
func saveToFile(path string, writeFunc func(io.Writer) error) error {
	dir := filepath.Dir(path)
	base := filepath.Base(path)

	tmp, err := os.CreateTemp(dir, base+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	_ = tmp.Chmod(0644)

	buf := bufio.NewWriterSize(tmp, 256*1024)
	if err := writeFunc(buf); err != nil {
		return err
	}
	if err := buf.Flush(); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Rename(tmpName, path); err != nil {
		return err
	}

	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}

	tmpName = ""
	return nil
}
