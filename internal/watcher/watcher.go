// Package watcher reports PDF files dropped into an inbox directory.
package watcher

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/fsnotify/fsnotify"

	"pdfchat/internal/domain"
	"pdfchat/internal/logging"
)

// Inbox watches one directory for new or rewritten .pdf files.
type Inbox struct {
	dir     string
	watcher *fsnotify.Watcher
	logger  *slog.Logger
}

// NewInbox creates the directory if needed and starts watching it.
func NewInbox(dir string, logger *slog.Logger) (*Inbox, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, err
	}
	return &Inbox{dir: dir, watcher: w, logger: logging.OrDiscard(logger)}, nil
}

// Dir returns the watched directory.
func (in *Inbox) Dir() string { return in.dir }

// Existing lists the .pdf files already in the inbox, sorted by name.
func (in *Inbox) Existing() ([]string, error) {
	entries, err := os.ReadDir(in.dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.Type().IsRegular() && domain.IsPDF(e.Name()) {
			out = append(out, filepath.Join(in.dir, e.Name()))
		}
	}
	sort.Strings(out)
	return out, nil
}

// Watch emits the path of every .pdf file created or written in the inbox
// until ctx is done or the inbox is closed.
func (in *Inbox) Watch(ctx context.Context) <-chan string {
	paths := make(chan string, 16)

	go func() {
		defer close(paths)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-in.watcher.Events:
				if !ok {
					return
				}
				if !domain.IsPDF(event.Name) || !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
					continue
				}
				in.logger.Debug("inbox file", "path", event.Name, "op", event.Op.String())
				select {
				case paths <- event.Name:
				case <-ctx.Done():
					return
				}
			case err, ok := <-in.watcher.Errors:
				if !ok {
					return
				}
				in.logger.Warn("inbox watcher error", "err", err)
			}
		}
	}()

	return paths
}

// Close stops the watcher.
func (in *Inbox) Close() error {
	return in.watcher.Close()
}
