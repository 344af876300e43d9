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
	"flag"
	"fmt"
	"strconv"
	"strings"
)

const (
	// DefaultLevel is the default lowest unsuppressed severity.
	DefaultLevel = LevelInfo

	// Flag for selecting the logger backend.
	optLogger = "logger"
	// Flag for selecting the logging level.
	optLevel = "logger-level"
	// Flag for enabling/disabling logging sources.
	optSource = "logger-source"
	// Flag for enabling/disabling per-source debugging.
	optDebug = "logger-debug"
)

// LevelNames maps severity levels to names.
var LevelNames = map[Level]string{
	LevelDebug: "debug",
	LevelInfo:  "info",
	LevelWarn:  "warn",
	LevelError: "error",
	LevelFatal: "fatal",
	LevelPanic: "panic",
}

// NamedLevels maps severity names to levels.
var NamedLevels = map[string]Level{
	"debug":   LevelDebug,
	"info":    LevelInfo,
	"warn":    LevelWarn,
	"warning": LevelWarn,
	"error":   LevelError,
}

// flagLevel mirrors the runtime severity level for the command line.
var flagLevel = DefaultLevel

// Set implements flag.Value for Level.
func (l *Level) Set(value string) error {
	level, ok := NamedLevels[strings.ToLower(value)]
	if !ok {
		return loggerError("unknown log level '%s'", value)
	}
	*l = level
	log.setLevel(level)
	return nil
}

// String implements flag.Value for Level.
func (l Level) String() string {
	if name, ok := LevelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("level(%d)", int(l))
}

// ApplyLevel sets the runtime log level from a configuration value, e.g.
// pkg/config's Settings.LogLevel.
func ApplyLevel(name string) error {
	level, ok := NamedLevels[strings.ToLower(name)]
	if !ok {
		return loggerError("unknown log level '%s'", name)
	}
	log.setLevel(level)
	return nil
}

// srcmap tracks per-source enabled/debug states, "*" being a wildcard.
type srcmap map[string]bool

// enabled checks the state of a source, def applying when neither the
// source nor the wildcard is present.
func (m srcmap) enabled(source string, def bool) bool {
	if state, ok := m[source]; ok {
		return state
	}
	if state, ok := m["*"]; ok {
		return state
	}
	return def
}

func (m srcmap) String() string {
	if m == nil {
		return "all"
	}
	if len(m) == 0 {
		return "none"
	}

	tVal, tSep := "", ""
	fVal, fSep := "", ""

	for name, state := range m {
		if name == "*" {
			name = "all"
		}
		if state {
			tVal += tSep + name
			tSep = ","
		} else {
			fVal += fSep + name
			fSep = ","
		}
	}

	if tVal != "" {
		tVal = "on:" + tVal
	}
	if fVal != "" {
		fVal = "off:" + fVal
	}

	switch {
	case fVal == "":
		return tVal
	case tVal == "":
		return fVal
	default:
		return tVal + "," + fVal
	}
}

// parseSrcSpec parses an "on:src,src,off:src"-style source state spec.
func parseSrcSpec(value string) (srcmap, error) {
	m := make(srcmap)

	prev := "on"
	for _, req := range strings.Split(strings.TrimSpace(value), ",") {
		var state bool
		var err error

		status := prev
		names := ""
		split := strings.SplitN(req, ":", 2)

		switch len(split) {
		case 1:
			names = split[0]
		case 2:
			status = split[0]
			names = split[1]
			prev = status
		default:
			continue
		}

		switch status {
		case "on", "enable", "enabled":
			state = true
		case "off", "disable", "disabled":
			state = false
		default:
			if state, err = strconv.ParseBool(status); err != nil {
				return nil, loggerError("invalid state '%s' in spec '%s': %v", status, value, err)
			}
		}

		for _, f := range strings.Split(names, ",") {
			switch f {
			case "all", "*":
				m["*"] = state
			case "none":
				m["*"] = !state
			default:
				m[f] = state
			}
		}
	}

	return m, nil
}

// srcFlag is the flag.Value for the source-enabling and debug flags.
type srcFlag struct {
	debug bool
}

// Set implements flag.Value.
func (f *srcFlag) Set(value string) error {
	m, err := parseSrcSpec(value)
	if err != nil {
		return err
	}
	log.setSources(f.debug, m)
	return nil
}

// String implements flag.Value.
func (f *srcFlag) String() string {
	if log == nil {
		return ""
	}
	log.RLock()
	defer log.RUnlock()
	if f.debug {
		return log.dbgmap.String()
	}
	return log.srcmap.String()
}

// backendFlag is the flag.Value for backend selection.
type backendFlag struct{}

// Set implements flag.Value.
func (*backendFlag) Set(value string) error {
	return log.setBackend(value)
}

// String implements flag.Value.
func (*backendFlag) String() string {
	if log == nil {
		return FmtBackendName
	}
	if b := log.activeBackend(); b != nil {
		return b.Name()
	}
	return FmtBackendName
}

// Register us for command line parsing.
func init() {
	flag.Var(&flagLevel, optLevel,
		"least severity of log messages to pass through.")
	flag.Var(&srcFlag{}, optSource,
		"comma-separated list of logger sources to enable.\n"+
			"Specify '*' or all to enable logging for all sources.")
	flag.Var(&srcFlag{debug: true}, optDebug,
		"comma-separated list of logger sources to enable debugging for.\n"+
			"Specify '*' or all to enable debugging for all sources.")
	flag.Var(&backendFlag{}, optLogger,
		"logging backend to use")
}
