package statedoc

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// Document is a JSON value persisted as a whole to a single file. Loading
// never fails on bad content: a missing, empty or unparseable file yields
// the zero value of T.
type Document[T any] struct {
	path string

	mu   sync.Mutex
	data T
}

func Open[T any](path string) (*Document[T], error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening state document: %w", err)
	}
	defer f.Close()

	d := &Document[T]{path: path}
	if err := json.NewDecoder(f).Decode(&d.data); err != nil {
		var zero T
		d.data = zero
		slog.Debug("state document empty or unreadable, starting from defaults", "path", path, "err", err)
	}
	return d, nil
}

func (d *Document[T]) Path() string {
	return d.path
}

// Get returns a copy of the current value.
func (d *Document[T]) Get() T {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.data
}

// Update applies fn to the value and persists the result.
func (d *Document[T]) Update(fn func(*T)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	fn(&d.data)
	return d.save()
}

func (d *Document[T]) Save() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.save()
}

func (d *Document[T]) save() error {
	b, err := json.Marshal(d.data)
	if err != nil {
		return fmt.Errorf("encoding state document: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(d.path), filepath.Base(d.path)+".tmp*")
	if err != nil {
		return fmt.Errorf("writing state document: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return fmt.Errorf("writing state document: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing state document: %w", err)
	}
	if err := os.Rename(tmp.Name(), d.path); err != nil {
		return fmt.Errorf("replacing state document: %w", err)
	}
	return nil
}
