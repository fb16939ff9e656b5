package config

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
	"github.com/luno/jettison/log"
)

// Watch calls f with the new config every time the file at path changes
// and still decodes. It watches the directory so that editors replacing
// the file are noticed. Watch blocks until ctx is done.
func Watch(ctx context.Context, path string, f func(Config)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "config watcher")
	}
	defer w.Close()

	path = filepath.Clean(path)
	if err := w.Add(filepath.Dir(path)); err != nil {
		return errors.Wrap(err, "watch config dir", j.KV("path", path))
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Error(ctx, errors.Wrap(err, "config watcher"))
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			c, err := LoadFile(path)
			if err != nil {
				log.Error(ctx, errors.Wrap(err, "reload config"))
				continue
			}
			log.Info(ctx, "config reloaded", j.MKV{"path": path, "hosts": len(c.Hosts)})
			f(c)
		}
	}
}
