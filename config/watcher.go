package config

import (
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/pgwireclient/pgclient/pool"
)

// Watcher watches a config file for changes and hot-reloads its PoolConfig
// into a live pool.ConnectionPool. DialConfig is intentionally never
// reloaded this way: host/credential/TLS mode are fixed at dial time, same
// spirit as the teacher only ever reloading pool defaults onto existing
// tenants rather than re-dialing them.
type Watcher struct {
	path    string
	target  *pool.ConnectionPool
	logger  *slog.Logger
	watcher *fsnotify.Watcher
	stopCh  chan struct{}
}

// NewWatcher starts watching path and applies each successfully-parsed
// PoolConfig to target via target.UpdateLimits.
func NewWatcher(path string, target *pool.ConnectionPool, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(path); err != nil {
		w.Close()
		return nil, err
	}
	cw := &Watcher{
		path:    path,
		target:  target,
		logger:  logger,
		watcher: w,
		stopCh:  make(chan struct{}),
	}
	go cw.run()
	return cw, nil
}

func (cw *Watcher) run() {
	var debounce *time.Timer
	for {
		select {
		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(500*time.Millisecond, cw.reload)
			}
		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			cw.logger.Warn("config: watcher error", "error", err)
		case <-cw.stopCh:
			return
		}
	}
}

func (cw *Watcher) reload() {
	cfg, err := Load(cw.path)
	if err != nil {
		cw.logger.Warn("config: hot-reload failed", "path", cw.path, "error", err)
		return
	}
	cw.target.UpdateLimits(cfg.Pool.PoolConfig())
	cw.logger.Info("config: pool limits reloaded", "path", cw.path)
}

// Stop stops the watcher.
func (cw *Watcher) Stop() error {
	close(cw.stopCh)
	return cw.watcher.Close()
}
