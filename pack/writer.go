// Package pack implements the `.poepack` archive format: a deflate
// archive with a fixed interior layout (summary.json, trace.sqlite,
// artifacts/*.log, meta/environment.json) written atomically and read back
// for offline analysis (spec.md §4.K/L, §6).
package pack

import (
	"archive/zip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/flate"
	"github.com/sirupsen/logrus"

	"github.com/poecap/poe/events"
	"github.com/poecap/poe/store"
)

var log = logrus.WithField("component", "pack")

// ToolVersion is stamped into meta/environment.json's tool_version field.
// Overridden at build time via -ldflags in a real release; a plain
// constant here since this repo has no release pipeline of its own.
var ToolVersion = "dev"

func init() {
	zip.RegisterCompressor(zip.Deflate, func(w io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(w, flate.DefaultCompression)
	})
}

// Writer produces .poepack archives into a fixed output directory.
type Writer struct {
	OutputDir string
}

// NewWriter returns a Writer rooted at dir; Write creates dir if necessary.
func NewWriter(dir string) *Writer {
	return &Writer{OutputDir: dir}
}

// Write matches coordinator.PackWriter's shape: it reopens storePath with
// store.Open to regenerate summary.json from the checkpointed store (so the
// summary can never drift from what capture actually recorded), then
// writes the archive to a temp file in OutputDir and renames it into place.
func (w *Writer) Write(run events.Run, storePath string, stdoutTail, stderrTail []byte, meta map[string]string) (string, error) {
	st, err := store.Open(storePath, store.Options{})
	if err != nil {
		return "", fmt.Errorf("pack: reopen store: %w", err)
	}
	defer st.Close()

	stats, err := st.Stats()
	if err != nil {
		return "", fmt.Errorf("pack: read stats: %w", err)
	}

	summary := Summary{
		RunID:      run.ID,
		Command:    run.Command,
		ExitCode:   run.ExitCode,
		Signal:     run.Signal,
		DurationMS: run.EndedAt.Sub(run.StartedAt).Milliseconds(),
		Trigger:    string(run.Trigger),
		Failure:    failureFor(run),
		Stats: SummaryStats{
			Events:      stats.Events,
			Files:       stats.Files,
			Net:         stats.Net,
			DNS:         stats.DNS,
			Stacks:      stats.Stacks,
			StdoutBytes: stats.StdoutBytes,
			StderrBytes: stats.StderrBytes,
		},
	}

	metaDoc := Meta{
		Environment: meta,
		Hostname:    run.Hostname,
		Kernel:      run.Kernel,
		Arch:        run.Arch,
		ToolVersion: ToolVersion,
	}

	if err := os.MkdirAll(w.OutputDir, 0o755); err != nil {
		return "", fmt.Errorf("pack: mkdir output dir: %w", err)
	}

	tmp, err := os.CreateTemp(w.OutputDir, ".poepack-*.tmp")
	if err != nil {
		return "", fmt.Errorf("pack: create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if err := writeArchive(tmp, summary, metaDoc, storePath, stdoutTail, stderrTail); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("pack: write archive: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("pack: close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("pack: chmod temp file: %w", err)
	}

	dest := filepath.Join(w.OutputDir, run.ID+".poepack")
	if err := os.Rename(tmpName, dest); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("pack: rename into place: %w", err)
	}

	log.WithField("path", dest).Info("wrote pack")
	return dest, nil
}

// writeArchive assembles the zip in the fixed interior order spec.md §4.K
// requires: summary first, then the sealed store, then artifacts, then meta.
func writeArchive(dst io.Writer, summary Summary, meta Meta, storePath string, stdoutTail, stderrTail []byte) error {
	zw := zip.NewWriter(dst)

	if err := writeJSON(zw, "summary.json", summary); err != nil {
		return err
	}
	if err := writeFile(zw, "trace.sqlite", storePath); err != nil {
		return err
	}
	if err := writeBytes(zw, "artifacts/stdout.log", stdoutTail); err != nil {
		return err
	}
	if err := writeBytes(zw, "artifacts/stderr.log", stderrTail); err != nil {
		return err
	}
	if err := writeJSON(zw, "meta/environment.json", meta); err != nil {
		return err
	}

	return zw.Close()
}

func writeJSON(zw *zip.Writer, name string, v any) error {
	body, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}
	return writeBytes(zw, name, body)
}

func writeBytes(zw *zip.Writer, name string, body []byte) error {
	w, err := zw.Create(name)
	if err != nil {
		return fmt.Errorf("create %s: %w", name, err)
	}
	_, err = w.Write(body)
	return err
}

func writeFile(zw *zip.Writer, name, srcPath string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", srcPath, err)
	}
	defer src.Close()

	w, err := zw.Create(name)
	if err != nil {
		return fmt.Errorf("create %s: %w", name, err)
	}
	_, err = io.Copy(w, src)
	return err
}
