package registry

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// Watch reloads definition files in dir as they are created or written,
// until ctx is cancelled. A file that fails to parse or validate is logged
// and the previously registered type of the same name stays in place.
// The optional onLoad callback is invoked after each successful reload.
func (r *Registry) Watch(ctx context.Context, dir string, onLoad func(RequestType)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
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
				if event.Op&fsnotify.Create == 0 && event.Op&fsnotify.Write == 0 {
					continue
				}
				if !IsDefinitionFile(event.Name) {
					continue
				}
				rt, err := r.LoadFile(event.Name)
				if err != nil {
					r.log.WithError(err).WithField("file", filepath.Base(event.Name)).Warn("reload rejected")
					continue
				}
				r.log.WithFields(logrus.Fields{"file": filepath.Base(event.Name), "type": rt.Name}).Info("request type reloaded")
				if onLoad != nil {
					onLoad(rt)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				r.log.WithError(err).Warn("definition watcher error")
			}
		}
	}()
	return nil
}
