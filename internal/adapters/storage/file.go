// Package storage persists the two snapshot blobs as JSON files in a
// profile directory and watches them for writes by other processes.
package storage

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"

	"github.com/toonchat/compass/internal/core"
)

// FileStore publishes append-then-publish: the blob is written to a temp
// file and renamed into place, so readers never observe a partial write.
type FileStore struct {
	dir     string
	watcher *fsnotify.Watcher

	mu   sync.Mutex
	last map[core.SnapshotKey][]byte
	subs []func(key core.SnapshotKey, data []byte)
	done chan struct{}
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("profile dir: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return nil, err
	}

	s := &FileStore{
		dir:     dir,
		watcher: watcher,
		last:    make(map[core.SnapshotKey][]byte),
		done:    make(chan struct{}),
	}
	go s.watch()
	log.Info().Str("module", "storage").Str("dir", dir).Msg("file store ready")
	return s, nil
}

func (s *FileStore) path(key core.SnapshotKey) string {
	return filepath.Join(s.dir, string(key)+".json")
}

// Load returns (nil, nil) for a missing blob; corrupt content is returned
// as-is and degrades to empty state in the caller.
func (s *FileStore) Load(key core.SnapshotKey) ([]byte, error) {
	data, err := os.ReadFile(s.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.last[key] = append([]byte(nil), data...)
	s.mu.Unlock()
	return data, nil
}

func (s *FileStore) Publish(key core.SnapshotKey, data []byte) error {
	s.mu.Lock()
	s.last[key] = append([]byte(nil), data...)
	s.mu.Unlock()

	tmp := s.path(key) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		_ = os.Remove(tmp)
		return mapStorageErr(err)
	}
	if err := os.Rename(tmp, s.path(key)); err != nil {
		_ = os.Remove(tmp)
		return mapStorageErr(err)
	}
	return nil
}

func mapStorageErr(err error) error {
	if errors.Is(err, syscall.ENOSPC) || errors.Is(err, syscall.EDQUOT) {
		return fmt.Errorf("%w: %v", core.ErrStorageFull, err)
	}
	return err
}

func (s *FileStore) Subscribe(fn func(key core.SnapshotKey, data []byte)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, fn)
}

func (s *FileStore) Close() error {
	close(s.done)
	return s.watcher.Close()
}

// watch turns fsnotify events into external-change callbacks. Our own
// writes are suppressed by comparing against the last published content.
func (s *FileStore) watch() {
	for {
		select {
		case <-s.done:
			return
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			s.handleChange(ev.Name)
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Str("module", "storage").Msg("watcher error")
		}
	}
}

func (s *FileStore) handleChange(path string) {
	name := filepath.Base(path)
	var key core.SnapshotKey
	switch name {
	case string(core.KeyRooms) + ".json":
		key = core.KeyRooms
	case string(core.KeyMessages) + ".json":
		key = core.KeyMessages
	default:
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return
	}

	s.mu.Lock()
	if bytes.Equal(s.last[key], data) {
		s.mu.Unlock()
		return
	}
	s.last[key] = append([]byte(nil), data...)
	subs := append(([]func(core.SnapshotKey, []byte))(nil), s.subs...)
	s.mu.Unlock()

	log.Info().Str("module", "storage").Str("key", string(key)).Msg("external snapshot change")
	for _, fn := range subs {
		fn(key, data)
	}
}

var _ core.SnapshotStore = (*FileStore)(nil)
