// Pagevault - Paginated Storage Engine Backup and Restore
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pagevault

package upload

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tomtom215/pagevault/internal/logging"
)

// TypeFile is the Result.Type of FileUploader receipts.
const TypeFile = "file"

// FileUploader stores archives under Target/<unit label>/<file name>.
type FileUploader struct {
	Target      string
	DownloadDir string
}

// ExecuteUpload copies localPath/fileName to the remote unit directory.
func (f *FileUploader) ExecuteUpload(ctx context.Context, localPath, fileName, unitLabel string) (*Result, error) {
	start := time.Now()
	if err := checkName(unitLabel); err != nil {
		return nil, failure("upload", err)
	}
	if err := checkName(fileName); err != nil {
		return nil, failure("upload", err)
	}

	remoteDir := filepath.Join(f.Target, unitLabel)
	if err := os.MkdirAll(remoteDir, 0o755); err != nil {
		return nil, failure("create remote dir", err)
	}
	n, err := copyFile(ctx, filepath.Join(localPath, fileName), filepath.Join(remoteDir, fileName))
	if err != nil {
		return nil, failure("upload "+fileName, err)
	}

	res := &Result{
		ElapsedTime: time.Since(start),
		FileSize:    uint64(n),
		FileName:    fileName,
		Reference:   unitLabel,
		Type:        TypeFile,
		Metadata: map[string]string{
			"target":    f.Target,
			"reference": unitLabel,
		},
	}
	logging.Debug().
		Str("file", fileName).
		Str("unit", unitLabel).
		Int64("bytes", n).
		Dur("elapsed", res.ElapsedTime).
		Msg("Archive uploaded")
	return res, nil
}

// ExecuteDownload copies every file of the referenced unit directory into a
// fresh local directory.
func (f *FileUploader) ExecuteDownload(ctx context.Context, reference string) (string, error) {
	if err := checkName(reference); err != nil {
		return "", failure("download", err)
	}
	remoteDir := filepath.Join(f.Target, reference)
	entries, err := os.ReadDir(remoteDir)
	if err != nil {
		return "", failure("list remote unit", err)
	}
	if f.DownloadDir != "" {
		if err := os.MkdirAll(f.DownloadDir, 0o755); err != nil {
			return "", failure("create download dir", err)
		}
	}
	local, err := os.MkdirTemp(f.DownloadDir, "pagevault-download-")
	if err != nil {
		return "", failure("create download dir", err)
	}

	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		if _, err := copyFile(ctx, filepath.Join(remoteDir, e.Name()), filepath.Join(local, e.Name())); err != nil {
			_ = os.RemoveAll(local)
			return "", failure("download "+e.Name(), err)
		}
	}
	return local, nil
}

// checkName rejects names that would escape their parent directory.
func checkName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("invalid name %q", name)
	}
	return nil
}

// copyFile copies src to dst through a temp file renamed into place.
func copyFile(ctx context.Context, src, dst string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	tmp := dst + ".part"
	out, err := os.Create(tmp)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(out, &ctxReader{ctx: ctx, r: in})
	if err == nil {
		err = out.Sync()
	}
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(tmp, dst)
	}
	if err != nil {
		_ = os.Remove(tmp)
		return 0, err
	}
	return n, nil
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

var _ Uploader = (*FileUploader)(nil)
