// Package watcher reports changes to the files of one directory, coalesced
// into batches so that an editor save or a bulk copy triggers one reingest.
//
// fsnotify is used when the platform supports it; otherwise, or when
// Options.Poll is set, the directory is polled for size and modification
// time changes.
//
//	w, err := watcher.New(dir, watcher.Options{Filter: index.AffectsManifest})
//	if err != nil {
//	    return err
//	}
//	defer w.Close()
//	return w.Run(ctx, func(ctx context.Context, names []string) error {
//	    // names changed since the last batch
//	})
package watcher
