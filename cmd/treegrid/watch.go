package main

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/vanderheijden86/treegrid/pkg/loader"
	"github.com/vanderheijden86/treegrid/pkg/source"
	"github.com/vanderheijden86/treegrid/pkg/watcher"
)

// errNotWatchable is returned for sources without a backing file.
var errNotWatchable = errors.New("source has nothing to watch")

// watchTarget returns the file or directory behind src.
func watchTarget(src source.Source) (string, error) {
	switch s := src.(type) {
	case *source.FileSystem:
		return s.Root(), nil
	case *source.SQLite:
		return s.Path(), nil
	case *source.Issues:
		return s.File()
	}
	return "", errNotWatchable
}

// reloadSource drops what src cached for the changed dirs.
func reloadSource(src source.Source, dirs []string) error {
	switch s := src.(type) {
	case *source.FileSystem:
		for _, d := range dirs {
			s.Forget(d)
		}
	case *source.SQLite:
		s.Forget()
	case *source.Issues:
		return s.Reload()
	}
	return nil
}

// liveReload refreshes grids through refresh whenever the data behind src
// changes. The returned func stops watching.
func liveReload(src source.Source, refresh func(ctx context.Context) error) (func(), error) {
	target, err := watchTarget(src)
	if err != nil {
		return nil, err
	}
	w, err := watcher.NewWatcher(target,
		watcher.WithSkip(func(name string) bool { return name == ".git" || name == loader.StateDirName }),
		watcher.WithOnError(func(err error) { log.Printf("warning: watching %s: %v", target, err) }),
	)
	if err != nil {
		return nil, fmt.Errorf("watching %s: %w", target, err)
	}
	if err := w.Start(); err != nil {
		return nil, fmt.Errorf("watching %s: %w", target, err)
	}

	worker, err := watcher.NewRefreshWorker(watcher.WorkerConfig{
		Changes: w.Changed(),
		Reload: func(_ context.Context, dirs []string) error {
			return reloadSource(src, dirs)
		},
		Refresh: refresh,
		OnResult: func(err error) {
			if err != nil {
				log.Printf("warning: live reload: %v", err)
			}
		},
	})
	if err != nil {
		w.Stop()
		return nil, err
	}
	worker.Start()
	return func() {
		w.Stop()
		worker.Stop()
	}, nil
}
