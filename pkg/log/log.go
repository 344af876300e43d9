// Copyright 2026 The tres-select Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package log

import (
	"fmt"
	"strings"
	"sync"
)

// levelHighest is the highest real severity; backends use levels above
// this for internal control requests.
const levelHighest = LevelPanic

// logging encapsulates the runtime state of the package: every named
// logger, its per-source configuration, the registered backends, and the
// currently active one.
type logging struct {
	sync.RWMutex
	level   Level                // lowest unsuppressed severity
	forced  bool                 // full debugging forced on for all sources
	srcmap  srcmap               // enabled logger sources
	dbgmap  srcmap               // debug-enabled logger sources
	loggers map[string]logger    // source to logger mapping
	sources map[logger]string    // logger to source mapping
	configs map[logger]config    // per-logger configuration
	backend map[string]BackendFn // registered backend constructors
	active  Backend              // active backend
	align   int                  // length of the longest source name
}

// our logging runtime state
var log = &logging{
	level:   DefaultLevel,
	srcmap:  srcmap{"*": true},
	dbgmap:  srcmap{"*": false},
	loggers: make(map[string]logger),
	sources: make(map[logger]string),
	configs: make(map[logger]config),
	backend: make(map[string]BackendFn),
}

// NewLogger creates the named logger, or gets the existing one.
func NewLogger(source string) Logger {
	return log.get(source)
}

// Get is an alias for NewLogger.
func Get(source string) Logger {
	return log.get(source)
}

// SetLevel sets the lowest unsuppressed severity.
func SetLevel(level Level) {
	log.setLevel(level)
}

// SetBackend activates the named, previously registered backend.
func SetBackend(name string) error {
	return log.setBackend(name)
}

// EnableDebug enables debug messages for the given source.
func EnableDebug(source string) bool {
	return log.get(source).EnableDebug(true)
}

// Flush flushes and stops any initial message buffering in the backend.
func Flush() {
	if b := log.activeBackend(); b != nil {
		b.Flush()
	}
}

// Sync waits for all messages passed to the backend to get emitted.
func Sync() {
	if b := log.activeBackend(); b != nil {
		b.Sync()
	}
}

// get looks up or creates the logger for the given source.
func (l *logging) get(source string) Logger {
	source = strings.Trim(source, "[] ")

	l.Lock()
	defer l.Unlock()

	if id, ok := l.loggers[source]; ok {
		return id
	}

	if len(l.loggers) >= maxLoggers {
		// fall back to sharing the first logger's id rather than failing
		return logger(0)
	}

	id := logger(len(l.loggers))
	l.loggers[source] = id
	l.sources[id] = source
	l.configs[id] = mkConfig(id, l.srcmap.enabled(source, true), l.dbgmap.enabled(source, false))

	if len(source) > l.align {
		l.align = len(source)
		if l.active != nil {
			l.active.SetSourceAlignment(l.align)
		}
	}

	return id
}

func (l *logging) setLevel(level Level) {
	l.Lock()
	defer l.Unlock()
	l.level = level
}

func (l *logging) setBackend(name string) error {
	l.Lock()
	defer l.Unlock()

	fn, ok := l.backend[name]
	if !ok {
		return loggerError("can't activate unknown backend '%s'", name)
	}

	old := l.active
	l.active = fn()
	l.active.SetSourceAlignment(l.align)

	if old != nil {
		old.Stop()
	}

	return nil
}

func (l *logging) activeBackend() Backend {
	l.RLock()
	defer l.RUnlock()
	return l.active
}

// setSources replaces the enabled- or debug-source map and updates every
// existing logger's configuration accordingly.
func (l *logging) setSources(debug bool, m srcmap) {
	l.Lock()
	defer l.Unlock()

	if debug {
		l.dbgmap = m
	} else {
		l.srcmap = m
	}

	for id, source := range l.sources {
		cfg := l.configs[id]
		if debug {
			cfg.setTracing(l.dbgmap.enabled(source, false))
		} else {
			cfg.setLogging(l.srcmap.enabled(source, true))
		}
		l.configs[id] = cfg
	}
}

// forceDebug turns forced full debugging on or off, returning the
// previous state.
func (l *logging) forceDebug(state bool) bool {
	l.Lock()
	defer l.Unlock()
	old := l.forced
	l.forced = state
	return old
}

// debugForced checks if full debugging is forced on.
func (l *logging) debugForced() bool {
	l.RLock()
	defer l.RUnlock()
	return l.forced
}

// loggerError returns a formatted package-specific error.
func loggerError(format string, args ...interface{}) error {
	return fmt.Errorf("log: "+format, args...)
}
