// Package store provides read access to tunnel definitions and credential
// profiles kept in a YAML file. The engine consumes the store read-only;
// editing definitions is the job of whatever frontend owns the file.
//
// The store watches its backing file with fsnotify and refreshes the in-memory
// snapshot when the file changes. Running tunnels are not touched by a reload;
// a changed definition takes effect the next time the tunnel is started.
package store

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/klpod221/kerminal-sub000/internal/model"
)

// document is the on-disk shape of tunnels.yaml.
type document struct {
	Tunnels     []model.TunnelConfig `yaml:"tunnels"`
	Credentials []model.Credential   `yaml:"credentials"`
}

// File is a file-backed store with hot reload.
type File struct {
	path    string
	watcher *fsnotify.Watcher

	mu  sync.RWMutex
	doc document

	closeOnce sync.Once
	done      chan struct{}
}

// Open loads the store file and starts watching it for changes. A missing
// file is not an error; it behaves as an empty store until it appears.
func Open(path string) (*File, error) {
	f := &File{path: path, done: make(chan struct{})}
	if err := f.reload(); err != nil {
		return nil, err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("store watcher: %w", err)
	}
	// Watch the directory, not the file: editors and atomic writers replace
	// the file, which would silently detach a file-level watch.
	if err := w.Add(filepath.Dir(path)); err != nil {
		w.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}
	f.watcher = w
	go f.watch()
	return f, nil
}

func (f *File) watch() {
	for {
		select {
		case <-f.done:
			return
		case ev, ok := <-f.watcher.Events:
			if !ok {
				return
			}
			if ev.Name != f.path {
				continue
			}
			if !ev.Op.Has(fsnotify.Write) && !ev.Op.Has(fsnotify.Create) && !ev.Op.Has(fsnotify.Rename) {
				continue
			}
			if err := f.reload(); err != nil {
				// Keep serving the previous snapshot on a bad edit.
				slog.Warn("store reload failed", "path", f.path, "error", err)
				continue
			}
			slog.Info("store reloaded", "path", f.path)
		case err, ok := <-f.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("store watcher error", "error", err)
		}
	}
}

func (f *File) reload() error {
	b, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			f.mu.Lock()
			f.doc = document{}
			f.mu.Unlock()
			return nil
		}
		return err
	}
	var doc document
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return fmt.Errorf("parse %s: %w", f.path, err)
	}
	f.mu.Lock()
	f.doc = doc
	f.mu.Unlock()
	return nil
}

// Close stops the file watcher.
func (f *File) Close() error {
	var err error
	f.closeOnce.Do(func() {
		close(f.done)
		if f.watcher != nil {
			err = f.watcher.Close()
		}
	})
	return err
}

// Tunnel returns the definition with the given id.
func (f *File) Tunnel(id string) (model.TunnelConfig, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, t := range f.doc.Tunnels {
		if t.ID == id {
			return t, nil
		}
	}
	return model.TunnelConfig{}, fmt.Errorf("tunnel %s: not found", id)
}

// Tunnels returns all tunnel definitions in file order.
func (f *File) Tunnels() []model.TunnelConfig {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]model.TunnelConfig, len(f.doc.Tunnels))
	copy(out, f.doc.Tunnels)
	return out
}

// Credential returns the credential profile with the given name.
func (f *File) Credential(profile string) (model.Credential, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, c := range f.doc.Credentials {
		if c.Profile == profile {
			return c, nil
		}
	}
	return model.Credential{}, fmt.Errorf("credential profile %s: not found", profile)
}

// AutoStartTunnels returns the definitions flagged for the start sweep at
// process init.
func (f *File) AutoStartTunnels() ([]model.TunnelConfig, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	var out []model.TunnelConfig
	for _, t := range f.doc.Tunnels {
		if t.AutoStart {
			out = append(out, t)
		}
	}
	return out, nil
}
