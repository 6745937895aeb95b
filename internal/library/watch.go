// ABOUTME: Keeps the in-memory track listing in step with the audio directory
// ABOUTME: Uses fsnotify to rescan on create, remove, and rename events
package library

import (
	"fmt"
	"log"

	"github.com/fsnotify/fsnotify"
)

// Watch starts watching the audio directory. List serves a cached listing
// until Close is called. Calling Watch twice is a no-op.
func (l *Library) Watch() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.watcher != nil {
		return nil
	}

	select {
	case <-l.closed:
		return fmt.Errorf("library closed")
	default:
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(l.dir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", l.dir, err)
	}

	l.watcher = watcher
	l.watched = true
	l.names = nil

	go l.watchLoop(watcher)

	log.Printf("Watching %s for library changes", l.dir)
	return nil
}

func (l *Library) watchLoop(watcher *fsnotify.Watcher) {
	for {
		select {
		case <-l.closed:
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !IsSupported(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				l.invalidate()
				log.Printf("Library changed: %s", event)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.Printf("Library watcher error: %v", err)
			l.invalidate()
		}
	}
}

// invalidate forces the next List to rescan
func (l *Library) invalidate() {
	l.mu.Lock()
	l.names = nil
	l.generation++
	l.mu.Unlock()
}
