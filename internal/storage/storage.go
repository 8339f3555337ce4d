// Package storage persists a Project to and from disk (spec §6): the
// primary save path is plain, pretty-printed JSON at an absolute path;
// autosaves compress the same JSON with LZMA and suffix the filename
// with a timestamp and `.fdaw.xz`, falling back to a temporary directory
// when no path is yet known. The debounced-timer shape is grounded on
// the teacher's own internal/storage (time.AfterFunc behind a
// package-level mutex), generalized from a global save-folder target to
// a caller-supplied Project and path.
package storage

import (
	"bytes"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/ulikunitz/xz"

	"github.com/schollz/riffengine/internal/model"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// autosaveSuffix is spec §6's required autosave filename tail.
const autosaveSuffix = ".fdaw.xz"

// Save writes project to path as pretty-printed JSON (spec §6: "the
// Project serializes to JSON (pretty-printed)"). path is expected to be
// absolute; project state is left untouched on failure (spec §7).
func Save(path string, project *model.Project) error {
	data, err := json.MarshalIndent(project, "", "  ")
	if err != nil {
		return fmt.Errorf("storage: marshal project: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("storage: create save directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("storage: write %s: %w", path, err)
	}
	return nil
}

// Load reads and unmarshals a project previously written by Save.
func Load(path string) (*model.Project, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("storage: read %s: %w", path, err)
	}
	var project model.Project
	if err := json.Unmarshal(data, &project); err != nil {
		return nil, fmt.Errorf("storage: unmarshal %s: %w", path, err)
	}
	return &project, nil
}

// AutosavePath builds the timestamped `.fdaw.xz` filename spec §6
// describes, rooted next to knownPath, or in the OS temp directory when
// knownPath is empty ("autosaves with no known path fall back to a
// temporary directory").
func AutosavePath(knownPath string, at time.Time) string {
	dir := os.TempDir()
	base := "untitled"
	if knownPath != "" {
		dir = filepath.Dir(knownPath)
		base = strings.TrimSuffix(filepath.Base(knownPath), filepath.Ext(knownPath))
	}
	stamp := at.UTC().Format("20060102-150405")
	return filepath.Join(dir, fmt.Sprintf("%s-%s%s", base, stamp, autosaveSuffix))
}

// WriteAutosave compresses project's pretty-printed JSON with LZMA
// (spec §6: "preset 6") via the xz container format and writes it to
// path. ulikunitz/xz has no explicit numbered presets; its writer
// default dictionary capacity approximates xz-utils' preset 6, the
// closest fit without hand-rolling an LZMA encoder.
func WriteAutosave(path string, project *model.Project) error {
	data, err := json.MarshalIndent(project, "", "  ")
	if err != nil {
		return fmt.Errorf("storage: marshal project: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("storage: create autosave directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("storage: create %s: %w", path, err)
	}
	defer f.Close()

	w, err := xz.NewWriter(f)
	if err != nil {
		return fmt.Errorf("storage: open xz writer: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return fmt.Errorf("storage: write xz stream: %w", err)
	}
	return w.Close()
}

// ReadAutosave decompresses and unmarshals a `.fdaw.xz` autosave written
// by WriteAutosave.
func ReadAutosave(path string) (*model.Project, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", path, err)
	}
	defer f.Close()

	r, err := xz.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("storage: open xz reader: %w", err)
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r); err != nil {
		return nil, fmt.Errorf("storage: decompress %s: %w", path, err)
	}
	var project model.Project
	if err := json.Unmarshal(buf.Bytes(), &project); err != nil {
		return nil, fmt.Errorf("storage: unmarshal %s: %w", path, err)
	}
	return &project, nil
}

// Debouncer coalesces bursts of autosave requests behind a single
// pending timer, the same time.AfterFunc-behind-a-mutex shape the
// teacher's package-level autosave used, scoped here to one instance per
// open project instead of one global timer per process.
type Debouncer struct {
	mu    sync.Mutex
	timer *time.Timer
	delay time.Duration
}

// NewDebouncer returns a Debouncer that fires delay after the most
// recent Trigger call.
func NewDebouncer(delay time.Duration) *Debouncer {
	return &Debouncer{delay: delay}
}

// Trigger (re)schedules an autosave of project to knownPath's autosave
// file. The path's timestamp is taken when the timer actually fires, not
// at call time, so repeated triggers within the debounce window collapse
// into one write. onError, if non-nil, receives any write failure; it
// runs on the timer's goroutine.
func (d *Debouncer) Trigger(project *model.Project, knownPath string, onError func(error)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, func() {
		start := time.Now()
		path := AutosavePath(knownPath, start)
		if err := WriteAutosave(path, project); err != nil {
			log.Printf("[STORAGE] autosave %s failed: %v", path, err)
			if onError != nil {
				onError(err)
			}
			return
		}
		log.Printf("[STORAGE] autosaved %s in %s", path, time.Since(start))
	})
}

// Stop cancels any pending autosave.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
}
