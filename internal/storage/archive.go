// Pagevault - Paginated Storage Engine Backup and Restore
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pagevault

package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/klauspost/compress/zip"
)

const (
	// ArchiveExtension is the file extension of backup archives.
	ArchiveExtension = ".ibu"

	// ArchiveHeaderSize is the size of the fixed header that precedes the
	// archive body: [u64 chain index][u64 lsn segment][u64 lsn position][u8 is full].
	ArchiveHeaderSize = 25

	// ManifestSectionName holds the JSON manifest of an archive.
	ManifestSectionName = "manifest.json"

	// DataSectionPrefix prefixes the section of every data file.
	DataSectionPrefix = "data/"

	archiveTimeLayout = "2006-01-02-15-04-05"
)

// absentLSN encodes "no LSN" in the archive header.
const absentLSN = math.MaxUint64

// ArchiveHeader is the fixed-size prefix of every archive. LSN is the newest
// LSN captured by the archive (nil when the storage had never been written).
type ArchiveHeader struct {
	ChainIndex uint64
	LSN        *LSN
	IsFull     bool
}

// MarshalBinary encodes the header big-endian.
func (h ArchiveHeader) MarshalBinary() ([]byte, error) {
	buf := make([]byte, ArchiveHeaderSize)
	binary.BigEndian.PutUint64(buf[0:8], h.ChainIndex)
	seg, pos := uint64(absentLSN), uint64(absentLSN)
	if h.LSN != nil {
		seg, pos = h.LSN.Segment, h.LSN.Position
	}
	binary.BigEndian.PutUint64(buf[8:16], seg)
	binary.BigEndian.PutUint64(buf[16:24], pos)
	if h.IsFull {
		buf[24] = 1
	}
	return buf, nil
}

// UnmarshalBinary decodes a header produced by MarshalBinary.
func (h *ArchiveHeader) UnmarshalBinary(buf []byte) error {
	if len(buf) < ArchiveHeaderSize {
		return fmt.Errorf("%w: header is %d bytes", ErrInvalidArchive, len(buf))
	}
	if buf[24] > 1 {
		return fmt.Errorf("%w: bad full flag %d", ErrInvalidArchive, buf[24])
	}
	h.ChainIndex = binary.BigEndian.Uint64(buf[0:8])
	seg := binary.BigEndian.Uint64(buf[8:16])
	pos := binary.BigEndian.Uint64(buf[16:24])
	h.LSN = nil
	if seg != absentLSN || pos != absentLSN {
		h.LSN = &LSN{Segment: seg, Position: pos}
	}
	h.IsFull = buf[24] == 1
	return nil
}

// ReadArchiveHeader reads the fixed header of an archive file.
func ReadArchiveHeader(path string) (ArchiveHeader, error) {
	f, err := os.Open(path)
	if err != nil {
		return ArchiveHeader{}, ioErr("open archive", path, err)
	}
	defer f.Close()
	buf := make([]byte, ArchiveHeaderSize)
	if _, err := io.ReadFull(f, buf); err != nil {
		return ArchiveHeader{}, fmt.Errorf("%w: %s: %v", ErrInvalidArchive, path, err)
	}
	var h ArchiveHeader
	if err := h.UnmarshalBinary(buf); err != nil {
		return ArchiveHeader{}, err
	}
	return h, nil
}

// ReadChainIndex reads only the first 8 bytes of an archive.
func ReadChainIndex(path string) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, ioErr("open archive", path, err)
	}
	defer f.Close()
	var buf [8]byte
	if _, err := io.ReadFull(f, buf[:]); err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrInvalidArchive, path, err)
	}
	return binary.BigEndian.Uint64(buf[:]), nil
}

// Manifest describes an archive in more detail than the header.
type Manifest struct {
	Database   string    `json:"database"`
	SinceLSN   *LSN      `json:"since_lsn,omitempty"`
	MaxLSN     *LSN      `json:"max_lsn,omitempty"`
	ChainIndex uint64    `json:"chain_index"`
	IsFull     bool      `json:"is_full"`
	PageSize   int       `json:"page_size"`
	Pages      int       `json:"pages"`
	CreatedAt  time.Time `json:"created_at"`
}

// ArchiveInfo is one archive discovered in a backup directory.
type ArchiveInfo struct {
	Path   string
	Size   int64
	Header ArchiveHeader
}

// ArchiveFileName builds the deterministic name of an archive.
func ArchiveFileName(database string, t time.Time, chainIndex uint64) string {
	return fmt.Sprintf("%s_%s_%d%s", database, t.UTC().Format(archiveTimeLayout), chainIndex, ArchiveExtension)
}

// ListArchives returns the archives in dir ordered by the chain index stored
// in their headers. A missing directory yields an empty list.
func ListArchives(dir string) ([]ArchiveInfo, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, ioErr("list archives", dir, err)
	}

	var out []ArchiveInfo
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ArchiveExtension) {
			continue
		}
		path := filepath.Join(dir, e.Name())
		h, err := ReadArchiveHeader(path)
		if err != nil {
			return nil, err
		}
		info, err := e.Info()
		if err != nil {
			return nil, ioErr("stat archive", path, err)
		}
		out = append(out, ArchiveInfo{Path: path, Size: info.Size(), Header: h})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Header.ChainIndex < out[j].Header.ChainIndex
	})
	return out, nil
}

// archiveWriter writes the header placeholder, streams zip sections after it
// and patches the header in place when the archive is finished.
type archiveWriter struct {
	path    string
	tmpPath string
	f       *os.File
	zw      *zip.Writer
	done    bool
}

func createArchive(path string) (*archiveWriter, error) {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_RDWR, 0o644)
	if err != nil {
		return nil, ioErr("create archive", tmp, err)
	}
	if _, err := f.Write(make([]byte, ArchiveHeaderSize)); err != nil {
		f.Close()
		os.Remove(tmp)
		return nil, ioErr("write archive header", tmp, err)
	}
	return &archiveWriter{
		path:    path,
		tmpPath: tmp,
		f:       f,
		zw:      zip.NewWriter(f),
	}, nil
}

// section starts a new named section. The previous section's writer becomes
// invalid.
func (w *archiveWriter) section(name string) (io.Writer, error) {
	sw, err := w.zw.CreateHeader(&zip.FileHeader{
		Name:     name,
		Method:   zip.Deflate,
		Modified: time.Now().UTC(),
	})
	if err != nil {
		return nil, ioErr("create archive section "+name, w.tmpPath, err)
	}
	return sw, nil
}

func (w *archiveWriter) finish(h ArchiveHeader) error {
	if err := w.zw.Close(); err != nil {
		return ioErr("close archive body", w.tmpPath, err)
	}
	buf, _ := h.MarshalBinary()
	if _, err := w.f.WriteAt(buf, 0); err != nil {
		return ioErr("write archive header", w.tmpPath, err)
	}
	if err := w.f.Sync(); err != nil {
		return ioErr("sync archive", w.tmpPath, err)
	}
	if err := w.f.Close(); err != nil {
		return ioErr("close archive", w.tmpPath, err)
	}
	if err := os.Rename(w.tmpPath, w.path); err != nil {
		return ioErr("rename archive", w.path, err)
	}
	w.done = true
	return nil
}

// abort discards an unfinished archive.
func (w *archiveWriter) abort() {
	if w.done {
		return
	}
	_ = w.f.Close()
	_ = os.Remove(w.tmpPath)
}

// archiveReader gives random access to the sections of one archive.
type archiveReader struct {
	path   string
	f      *os.File
	header ArchiveHeader
	zr     *zip.Reader
}

func openArchive(path string) (*archiveReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, ioErr("open archive", path, err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, ioErr("stat archive", path, err)
	}
	if st.Size() < ArchiveHeaderSize {
		f.Close()
		return nil, fmt.Errorf("%w: %s is %d bytes", ErrInvalidArchive, path, st.Size())
	}
	buf := make([]byte, ArchiveHeaderSize)
	if _, err := f.ReadAt(buf, 0); err != nil {
		f.Close()
		return nil, ioErr("read archive header", path, err)
	}
	r := &archiveReader{path: path, f: f}
	if err := r.header.UnmarshalBinary(buf); err != nil {
		f.Close()
		return nil, err
	}
	bodySize := st.Size() - ArchiveHeaderSize
	zr, err := zip.NewReader(io.NewSectionReader(f, ArchiveHeaderSize, bodySize), bodySize)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidArchive, path, err)
	}
	r.zr = zr
	return r, nil
}

func (r *archiveReader) sections() []*zip.File {
	return r.zr.File
}

func (r *archiveReader) readSection(name string) ([]byte, error) {
	for _, zf := range r.zr.File {
		if zf.Name != name {
			continue
		}
		rc, err := zf.Open()
		if err != nil {
			return nil, ioErr("open archive section "+name, r.path, err)
		}
		defer rc.Close()
		data, err := io.ReadAll(rc)
		if err != nil {
			return nil, ioErr("read archive section "+name, r.path, err)
		}
		return data, nil
	}
	return nil, fmt.Errorf("%w: %s has no %s section", ErrInvalidArchive, r.path, name)
}

func (r *archiveReader) manifest() (*Manifest, error) {
	data, err := r.readSection(ManifestSectionName)
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %s: decode manifest: %v", ErrInvalidArchive, r.path, err)
	}
	return &m, nil
}

func (r *archiveReader) Close() error {
	return r.f.Close()
}

// ReadManifest opens an archive and returns its manifest.
func ReadManifest(path string) (*Manifest, error) {
	r, err := openArchive(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return r.manifest()
}
