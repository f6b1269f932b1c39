package kestrel

import (
	"log"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// devWatcher watches the main script file for changes in dev mode (spec
// §4.9). Grounded on fsnotify's standard "watch the directory, filter by
// basename" pattern, used because most editors replace-on-save (rename +
// create) rather than writing in place, which a plain inotify watch on
// the file itself would miss.
type devWatcher struct {
	w         *fsnotify.Watcher
	scriptAbs string
	stop      chan struct{}
}

// StartDevWatch begins watching scriptPath's containing directory and
// calls rt.requestDevRestart() whenever that file changes. Call once,
// after Init, only when cfg.DevMode is true.
func (rt *Runtime) StartDevWatch(scriptPath string) error {
	abs, err := filepath.Abs(scriptPath)
	if err != nil {
		return err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		_ = w.Close()
		return err
	}

	dw := &devWatcher{w: w, scriptAbs: abs, stop: make(chan struct{})}
	rt.watcher = dw

	go dw.run(rt.requestDevRestart)
	return nil
}

func (dw *devWatcher) run(onChange func()) {
	for {
		select {
		case ev, ok := <-dw.w.Events:
			if !ok {
				return
			}
			abs, err := filepath.Abs(ev.Name)
			if err != nil || abs != dw.scriptAbs {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				onChange()
			}
		case err, ok := <-dw.w.Errors:
			if !ok {
				return
			}
			log.Printf("kestrel: dev watcher error: %v", err)
		case <-dw.stop:
			return
		}
	}
}

// StopDevWatch closes the file watcher goroutine, called during Restart
// and Deinit.
func (rt *Runtime) StopDevWatch() {
	if rt.watcher == nil {
		return
	}
	close(rt.watcher.stop)
	_ = rt.watcher.w.Close()
	rt.watcher = nil
}

// Restart implements the restart sequence: save the chrome
// window's native handle, shut down, deinit (without destroying the
// chrome window's native resource), then the caller (CLI) re-Inits a
// fresh Runtime, re-registers the preserved window, re-attaches the
// watcher, and re-runs the main script. Restart itself only performs the
// "save + shutdown + deinit" half; re-creation is the CLI's job because
// it alone holds the engine.New() call for the fresh script engine
// instance. Restart does not preserve script-side references, only the
// platform handle and chrome window OS handle.
func (rt *Runtime) Restart() (preservedChromeWindow any, err error) {
	var chrome any
	for id, w := range rt.windows {
		// Only the window marked with PreserveWindowID is carried across;
		// with none marked, nothing is preserved and chrome stays nil.
		if rt.preservedWindowID != 0 && id == rt.preservedWindowID {
			chrome = w.Native
			break
		}
	}
	rt.StopDevWatch()
	if err := rt.Shutdown(); err != nil {
		return nil, err
	}
	if err := rt.Deinit(preserveNative(chrome)); err != nil {
		return nil, err
	}
	return chrome, nil
}

// PreserveWindowID marks which currently open window is the dev-mode
// chrome window, so Restart knows which native handle to carry across
// the restart boundary.
func (rt *Runtime) PreserveWindowID(id int) {
	rt.preservedWindowID = id
}

func preserveNative(native any) bool {
	return native != nil
}
