package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

const fileSuffix = ".json"

// FileStore keeps one file per key in a directory. Several processes may share the
// directory; each one learns about the others' writes through fsnotify.
type FileStore struct {
	dir string

	mu         sync.Mutex
	ownWrites  map[string][]byte
	ownDeletes map[string]bool
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	return &FileStore{
		dir:        dir,
		ownWrites:  make(map[string][]byte),
		ownDeletes: make(map[string]bool),
	}, nil
}

func (s *FileStore) path(key string) string {
	return filepath.Join(s.dir, url.QueryEscape(key)+fileSuffix)
}

func (s *FileStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return data, nil
}

// Set writes through a temp file and rename so readers never see a partial value.
func (s *FileStore) Set(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(s.dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(value); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}

	s.mu.Lock()
	s.ownWrites[key] = cloneBytes(value)
	delete(s.ownDeletes, key)
	s.mu.Unlock()

	if err := os.Rename(tmpName, s.path(key)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace %s: %w", key, err)
	}
	return nil
}

func (s *FileStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.ownDeletes[key] = true
	delete(s.ownWrites, key)
	s.mu.Unlock()

	err := os.Remove(s.path(key))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", key, err)
	}
	return nil
}

func (s *FileStore) Watch(ctx context.Context, key string) (<-chan Change, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Add(s.dir); err != nil {
		w.Close()
		return nil, fmt.Errorf("watch %s: %w", s.dir, err)
	}

	target := filepath.Base(s.path(key))
	last, _ := os.ReadFile(s.path(key))
	sub := newSubscription()

	go func() {
		defer sub.close()
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Base(event.Name) != target {
					continue
				}
				c, current, emit := s.inspect(key, event, last)
				last = current
				if emit {
					sub.offer(c)
				}
			case _, ok := <-w.Errors:
				if !ok {
					return
				}
			}
		}
	}()

	return sub.ch, nil
}

// inspect turns a filesystem event on the key's file into a Change, filtering
// out events caused by this store's own writes and duplicate notifications.
// It also returns the file content the watcher should remember.
func (s *FileStore) inspect(key string, event fsnotify.Event, last []byte) (Change, []byte, bool) {
	if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
		if _, err := os.Stat(event.Name); err == nil {
			return Change{}, last, false
		}
		s.mu.Lock()
		own := s.ownDeletes[key]
		delete(s.ownDeletes, key)
		s.mu.Unlock()
		if own || last == nil {
			return Change{}, nil, false
		}
		return Change{Key: key, Old: last, Deleted: true}, nil, true
	}

	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return Change{}, last, false
	}
	data, err := os.ReadFile(event.Name)
	if err != nil {
		return Change{}, last, false
	}
	if last != nil && bytes.Equal(data, last) {
		return Change{}, last, false
	}
	s.mu.Lock()
	own, ok := s.ownWrites[key]
	s.mu.Unlock()
	if ok && bytes.Equal(data, own) {
		return Change{}, data, false
	}
	return Change{Key: key, Old: last, New: data}, data, true
}
