package metadata

import (
	"github.com/fsnotify/fsnotify"
)

// Watch observes external edits to the metadata file for id (spec §9's
// event-stream consumers note: operators sometimes hand-edit a stuck
// record). It returns a channel that receives a signal on every write
// event and a cancel function to stop watching. This is purely additive —
// no core algorithm depends on it.
func (s *Store) Watch(id string) (<-chan struct{}, func() error, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, nil, err
	}
	if err := watcher.Add(s.dir); err != nil {
		watcher.Close()
		return nil, nil, err
	}

	ch := make(chan struct{}, 1)
	target := s.path(id)
	done := make(chan struct{})

	go func() {
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Name != target {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					select {
					case ch <- struct{}{}:
					default:
					}
				}
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			case <-done:
				return
			}
		}
	}()

	cancel := func() error {
		close(done)
		return watcher.Close()
	}
	return ch, cancel, nil
}
