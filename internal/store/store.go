// Package store is the flat shared directory clients upload to and download
// from. Every name is confined to the directory itself.
package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// PartialSuffix marks uploads still in flight. They are hidden from List.
const PartialSuffix = ".partial"

var (
	ErrInvalidFilename = errors.New("invalid filename")
	ErrNotFound        = errors.New("file not found")
)

type Dir struct {
	root   string
	hidden map[string]bool
}

// Open resolves root to an absolute directory path. Any of the hidden paths
// that lie directly inside it, such as the server's own log file, are left out
// of List and refused by Resolve.
func Open(root string, hidden ...string) (*Dir, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", root, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", abs)
	}
	d := &Dir{root: abs, hidden: make(map[string]bool)}
	for _, p := range hidden {
		hp, err := filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", p, err)
		}
		if filepath.Dir(hp) == abs {
			d.hidden[filepath.Base(hp)] = true
		}
	}
	return d, nil
}

func (d *Dir) skip(name string) bool {
	return strings.HasSuffix(name, PartialSuffix) || d.hidden[name]
}

func (d *Dir) Root() string {
	return d.root
}

// Resolve maps a client-supplied filename to a path inside the directory.
// Names with separators, "." or "..", NUL bytes, the partial-upload suffix or
// a hidden name are rejected with ErrInvalidFilename.
func (d *Dir) Resolve(name string) (string, error) {
	switch {
	case name == "", name == ".", name == "..":
		return "", ErrInvalidFilename
	case strings.ContainsAny(name, `/\`+"\x00"):
		return "", ErrInvalidFilename
	case d.skip(name):
		return "", ErrInvalidFilename
	case filepath.IsAbs(name) || filepath.VolumeName(name) != "":
		return "", ErrInvalidFilename
	}

	path := filepath.Join(d.root, name)
	if filepath.Dir(path) != d.root {
		return "", ErrInvalidFilename
	}
	return path, nil
}

// Stat returns the size of a stored regular file.
func (d *Dir) Stat(name string) (string, int64, error) {
	path, err := d.Resolve(name)
	if err != nil {
		return "", 0, err
	}
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", 0, ErrNotFound
	}
	if err != nil {
		return "", 0, err
	}
	if !info.Mode().IsRegular() {
		return "", 0, ErrNotFound
	}
	return path, info.Size(), nil
}

// List returns the entry names of the directory, one level deep, sorted.
func (d *Dir) List() ([]string, error) {
	entries, err := os.ReadDir(d.root)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if d.skip(entry.Name()) {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names, nil
}

// Watch calls onChange with the base name of every entry created, written,
// removed or renamed in the directory until ctx is done.
func (d *Dir) Watch(ctx context.Context, onChange func(name string)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(d.root); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", d.root, err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op == fsnotify.Chmod {
					continue
				}
				name := filepath.Base(event.Name)
				if d.skip(name) {
					continue
				}
				onChange(name)
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()
	return nil
}
