package adapters

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/go-logr/logr"

	"ausfoperator/pkg/core"
)

// FileRegistrationSource reads the NRF registration data from a mounted file.
// The file's presence means the dependency has been configured; its content
// is the published NRF URL (possibly still empty).
type FileRegistrationSource struct {
	path string
}

var _ RegistrationSource = (*FileRegistrationSource)(nil)

// NewFileRegistrationSource builds a source reading from path.
func NewFileRegistrationSource(path string) *FileRegistrationSource {
	return &FileRegistrationSource{path: path}
}

// Configured reports whether the registration data file exists at all.
func (source *FileRegistrationSource) Configured() bool {
	_, err := os.Stat(source.path)
	return err == nil
}

// URL returns the published NRF URL, empty when unpublished or unreadable.
func (source *FileRegistrationSource) URL() string {
	content, err := os.ReadFile(source.path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(content))
}

// RegistrationWatcher turns changes of the registration data file into
// dispatcher events.
type RegistrationWatcher struct {
	source *FileRegistrationSource
	sink   EventSink
	logger logr.Logger
}

// NewRegistrationWatcher builds a watcher feeding the given sink.
func NewRegistrationWatcher(source *FileRegistrationSource, sink EventSink, logger logr.Logger) *RegistrationWatcher {
	return &RegistrationWatcher{source: source, sink: sink, logger: logger}
}

// Run watches the parent directory of the data file until the context is
// cancelled. The directory must exist; the file itself may appear later.
func (watcher *RegistrationWatcher) Run(ctx context.Context) error {
	notifier, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer notifier.Close()

	directory := filepath.Dir(watcher.source.path)
	if err := notifier.Add(directory); err != nil {
		return fmt.Errorf("watch %s: %w", directory, err)
	}

	// The file may already be present when the watch starts.
	if watcher.source.Configured() {
		watcher.sink.Emit(core.Event{Kind: core.EventRegistrationJoined})
		if watcher.source.URL() != "" {
			watcher.sink.Emit(core.Event{Kind: core.EventRegistrationAvailable})
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, open := <-notifier.Events:
			if !open {
				return nil
			}
			watcher.handle(event)
		case watchErr, open := <-notifier.Errors:
			if !open {
				return nil
			}
			watcher.logger.Error(watchErr, "registration watch error")
		}
	}
}

func (watcher *RegistrationWatcher) handle(event fsnotify.Event) {
	if event.Name != watcher.source.path {
		return
	}

	switch {
	case event.Op.Has(fsnotify.Create):
		watcher.logger.Info("registration data file appeared")
		watcher.sink.Emit(core.Event{Kind: core.EventRegistrationJoined})

		if watcher.source.URL() != "" {
			watcher.sink.Emit(core.Event{Kind: core.EventRegistrationAvailable})
		}
	case event.Op.Has(fsnotify.Write):
		watcher.sink.Emit(core.Event{Kind: core.EventRegistrationAvailable})
	}
}
