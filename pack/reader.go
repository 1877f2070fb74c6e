package pack

import (
	"archive/zip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/poecap/poe/store"
)

// Reader opens a .poepack archive, extracting the sealed store into a
// temp directory so the analyzer and differ can query it with a normal
// *store.Store handle.
type Reader struct {
	Summary Summary
	Meta    Meta

	storePath string
	stdoutLog []byte
	stderrLog []byte
	tempDir   string
}

// Open extracts path's contents into a fresh temp directory and decodes
// summary.json/meta/environment.json.
func Open(path string) (*Reader, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("pack: open %s: %w", path, err)
	}
	defer zr.Close()

	tempDir, err := os.MkdirTemp("", "poepack-*")
	if err != nil {
		return nil, fmt.Errorf("pack: mkdtemp: %w", err)
	}

	r := &Reader{tempDir: tempDir}

	for _, f := range zr.File {
		switch f.Name {
		case "summary.json":
			if err := readJSON(f, &r.Summary); err != nil {
				os.RemoveAll(tempDir)
				return nil, fmt.Errorf("pack: decode summary.json: %w", err)
			}
		case "meta/environment.json":
			if err := readJSON(f, &r.Meta); err != nil {
				os.RemoveAll(tempDir)
				return nil, fmt.Errorf("pack: decode meta/environment.json: %w", err)
			}
		case "artifacts/stdout.log":
			if r.stdoutLog, err = readAll(f); err != nil {
				os.RemoveAll(tempDir)
				return nil, fmt.Errorf("pack: read stdout.log: %w", err)
			}
		case "artifacts/stderr.log":
			if r.stderrLog, err = readAll(f); err != nil {
				os.RemoveAll(tempDir)
				return nil, fmt.Errorf("pack: read stderr.log: %w", err)
			}
		case "trace.sqlite":
			storePath := filepath.Join(tempDir, "trace.sqlite")
			if err := extractTo(f, storePath); err != nil {
				os.RemoveAll(tempDir)
				return nil, fmt.Errorf("pack: extract trace.sqlite: %w", err)
			}
			r.storePath = storePath
		}
	}

	if r.storePath == "" {
		os.RemoveAll(tempDir)
		return nil, fmt.Errorf("pack: %s missing trace.sqlite", path)
	}

	return r, nil
}

// StdoutTail returns the raw retained stdout bytes.
func (r *Reader) StdoutTail() []byte { return r.stdoutLog }

// StderrTail returns the raw retained stderr bytes.
func (r *Reader) StderrTail() []byte { return r.stderrLog }

// Store opens a read handle onto the pack's extracted event store. Callers
// must call the returned Store's Close when done; Reader.Close removes the
// underlying temp file regardless of whether Store.Close was called first.
func (r *Reader) Store() (*store.Store, error) {
	return store.Open(r.storePath, store.Options{})
}

// Close removes the temp directory the archive was extracted into.
func (r *Reader) Close() error {
	return os.RemoveAll(r.tempDir)
}

func readJSON(f *zip.File, v any) error {
	body, err := readAll(f)
	if err != nil {
		return err
	}
	return json.Unmarshal(body, v)
}

func readAll(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func extractTo(f *zip.File, dst string) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, rc)
	return err
}
