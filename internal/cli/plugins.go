package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/allyrun/ally/internal/agentpool"
	"github.com/allyrun/ally/pkg/pluginsdk"
)

// pluginManager backs the /plugin command: it scans the profile's plugins
// directory for manifests and tracks which plugins are active. Deactivating
// a plugin evicts its pooled agents so a stale persona is never reused.
type pluginManager struct {
	mu     sync.Mutex
	dir    string
	pool   *agentpool.Pool
	active map[string]bool
}

func newPluginManager(dir string, pool *agentpool.Pool) *pluginManager {
	return &pluginManager{dir: dir, pool: pool, active: make(map[string]bool)}
}

// manifests loads every valid plugin manifest under the plugins directory.
func (m *pluginManager) manifests() map[string]*pluginsdk.Manifest {
	out := make(map[string]*pluginsdk.Manifest)
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return out
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		manifest, err := pluginsdk.DecodeManifestFile(filepath.Join(m.dir, entry.Name(), pluginsdk.ManifestFilename))
		if err != nil || manifest.Validate() != nil {
			continue
		}
		out[manifest.Name] = manifest
	}
	return out
}

func (m *pluginManager) List() []string {
	manifests := m.manifests()
	names := make([]string, 0, len(manifests))
	for name, manifest := range manifests {
		line := name
		if manifest.Version != "" {
			line += " v" + manifest.Version
		}
		if manifest.Description != "" {
			line += " — " + manifest.Description
		}
		names = append(names, line)
	}
	sort.Strings(names)
	return names
}

func (m *pluginManager) Active() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var names []string
	for name, on := range m.active {
		if on {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func (m *pluginManager) Toggle(action, name string) error {
	manifests := m.manifests()
	manifest, ok := manifests[name]
	if !ok {
		return fmt.Errorf("no plugin named %q", name)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	switch strings.ToLower(action) {
	case "activate":
		m.active[name] = true
		return nil
	case "deactivate":
		delete(m.active, name)
		if m.pool != nil {
			m.pool.EvictPluginAgents(manifest.Name)
		}
		return nil
	default:
		return fmt.Errorf("unsupported plugin action %q", action)
	}
}
