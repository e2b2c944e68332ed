// Copyright 2025 AgentBridge
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

package plugin

import (
	"fmt"
	"os"
	"path/filepath"
	goplugin "plugin"
	"strings"

	"agentbridge/core/connectors/base"
)

// DriverSymbol is the exported symbol every plugin shared object must
// provide. The symbol's value implements Driver.
const DriverSymbol = "Driver"

// LoadFromFile loads one driver plugin from a shared-object artifact built
// with -buildmode=plugin. Failures are logged and reported as (nil, false),
// never thrown across this boundary: a broken artifact must not take the
// process down. Duplicate database types are rejected the same way.
func (r *Registry) LoadFromFile(path string) (Driver, bool) {
	p, err := goplugin.Open(path)
	if err != nil {
		r.logLoadError(path, err)
		return nil, false
	}

	sym, err := p.Lookup(DriverSymbol)
	if err != nil {
		r.logLoadError(path, fmt.Errorf("no exported %q symbol: %w", DriverSymbol, err))
		return nil, false
	}

	driver, ok := asDriver(sym)
	if !ok {
		r.logLoadError(path, fmt.Errorf("symbol %q does not implement the driver capability", DriverSymbol))
		return nil, false
	}

	if !r.Register(driver) {
		r.logLoadError(path, fmt.Errorf("type %q already registered", driver.DatabaseType()))
		return nil, false
	}
	return driver, true
}

// asDriver unwraps the looked-up symbol: plugins may export either a Driver
// variable (Lookup yields *Driver) or a value implementing it directly.
func asDriver(sym goplugin.Symbol) (Driver, bool) {
	if d, ok := sym.(Driver); ok {
		return d, true
	}
	if dp, ok := sym.(*Driver); ok && dp != nil && *dp != nil {
		return *dp, true
	}
	return nil, false
}

// LoadAllFromDirectory loads every .so artifact in a directory,
// best-effort. Files that fail to load are skipped; partial success is
// expected and normal for a plugin directory.
func (r *Registry) LoadAllFromDirectory(dir string) []Driver {
	entries, err := os.ReadDir(dir)
	if err != nil {
		r.logger.Printf("Cannot read plugin directory %s: %v", dir, err)
		return nil
	}

	var loaded []Driver
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".so") {
			continue
		}
		if d, ok := r.LoadFromFile(filepath.Join(dir, entry.Name())); ok {
			loaded = append(loaded, d)
		}
	}
	r.logger.Printf("Loaded %d plugin driver(s) from %s", len(loaded), dir)
	return loaded
}

func (r *Registry) logLoadError(path string, err error) {
	loadErr := &base.PluginLoadError{Path: path, Cause: err}
	r.logger.Printf("%v (skipped)", loadErr)
}
