package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.yaml.in/yaml/v3"
)

// reloadDebounce absorbs the burst of events editors emit for one save
const reloadDebounce = 250 * time.Millisecond

// File is a YAML Config. Unknown keys are rejected.
type File struct {
	Values

	path string
}

// LoadFile reads and validates the YAML file at path
func LoadFile(path string) (*File, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read config file %s: %w", path, err)
	}

	f := &File{path: path}

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&f.Values); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config file %s: %w: %v", path, ErrInvalid, err)
	}

	if err := validate(f); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}

	return f, nil
}

// validate the values that are parsed lazily so a bad reload is rejected up front
func validate(c Config) error {
	if _, err := c.Timezone(); err != nil {
		return err
	}

	if _, err := c.LogFormat(); err != nil {
		return err
	}

	if _, err := c.Cooldown(); err != nil {
		return err
	}

	if _, err := c.CacheMaxAge(); err != nil {
		return err
	}

	_, err := c.PushRatePerSec()

	return err
}

// Path of the file
func (f *File) Path() string {
	return f.path
}

// Watch the file and call fn with the reloaded config after every change.
// A file that fails to load is passed as an error and the previous config
// stays in effect. Watch blocks until ctx is done.
func (f *File) Watch(ctx context.Context, fn func(*File, error)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("unable to watch config file: %w", err)
	}
	defer w.Close()

	// editors replace files on save, so watch the directory
	if err := w.Add(filepath.Dir(f.path)); err != nil {
		return fmt.Errorf("unable to watch config directory: %w", err)
	}

	var (
		mu    sync.Mutex
		timer *time.Timer
	)

	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
	}()

	reload := func() {
		next, err := LoadFile(f.path)
		if ctx.Err() != nil {
			return
		}

		fn(next, err)
	}

	name := filepath.Base(f.path)
	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return errors.New("config watcher closed")
			}

			if filepath.Base(ev.Name) != name || ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}

			mu.Lock()
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(reloadDebounce, reload)
			mu.Unlock()

		case err, ok := <-w.Errors:
			if !ok {
				return errors.New("config watcher closed")
			}

			fn(nil, fmt.Errorf("config watcher: %w", err))
		}
	}
}
