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

// loggerHelp documents the --logger-level/--logger-source/--logger-debug
// flags; kept as a doc string rather than wired into a config help system
// since this package no longer carries one (see pkg/config).
const loggerHelp = `
Logging and debugging messages.

Each component of the placement engine (occupancy, nodefilter, feasibility,
selector, placement) logs under its own source name. Use --logger-level to
set the lowest severity passed through, --logger-source to enable or disable
individual sources, and --logger-debug to turn on debug tracing per source.
The reserved names 'all'/'*' and 'none' refer to every source at once, e.g.

  --logger-source=all --logger-debug=selector,placement
`
