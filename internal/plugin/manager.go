// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugins

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/samber/oops"

	"github.com/holomush/plugbus/internal/eventbus"
	"github.com/holomush/plugbus/internal/plugin/capability"
	"github.com/holomush/plugbus/pkg/errutil"
	pluginsdk "github.com/holomush/plugbus/pkg/plugin"
)

// Runtime names reported in Status.
const (
	RuntimeInProcess = "in-process"
	RuntimeLua       = "lua"
)

// DiscoveredPlugin contains a manifest and its directory.
type DiscoveredPlugin struct {
	Manifest *Manifest
	Dir      string
}

// Status describes one plugin known to the manager.
type Status struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Runtime string `json:"runtime"`
	Active  bool   `json:"active"`
	Error   string `json:"error,omitempty"`
}

// running is a plugin that completed startup.
type running struct {
	name     string
	version  string
	runtime  string
	plugin   pluginsdk.Plugin // nil for scripted plugins
	sc       *serverContext
	manifest *Manifest
}

// Manager owns plugin lifecycle: handler registration, initialization and
// shutdown for in-process plugins, and discovery and loading for scripted
// plugins. A plugin that fails to start is fatal to that plugin only.
type Manager struct {
	bus         *eventbus.Bus
	pluginsDir  string
	hostVersion string
	luaHost     Host
	enforcer    *capability.Enforcer
	subOpts     []SubscriberOption
	subscriber  *Subscriber
	logger      *slog.Logger
	metrics     *Metrics

	mu       sync.Mutex
	inproc   []pluginsdk.Plugin
	active   []*running
	statuses map[string]*Status
	order    []string
	started  bool
}

// ManagerOption configures the Manager.
type ManagerOption func(*Manager)

// WithPluginsDir sets the directory scanned for scripted plugins.
func WithPluginsDir(dir string) ManagerOption {
	return func(m *Manager) {
		m.pluginsDir = dir
	}
}

// WithLuaHost sets the host that runs Lua plugins.
func WithLuaHost(h Host) ManagerOption {
	return func(m *Manager) {
		m.luaHost = h
	}
}

// WithEnforcer grants manifest capabilities to scripted plugins.
func WithEnforcer(e *capability.Enforcer) ManagerOption {
	return func(m *Manager) {
		m.enforcer = e
	}
}

// WithHostVersion sets the version checked against manifest requires constraints.
func WithHostVersion(v string) ManagerOption {
	return func(m *Manager) {
		m.hostVersion = v
	}
}

// WithManagerLogger sets the logger handed to plugins and used for lifecycle logs.
func WithManagerLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = l
	}
}

// WithManagerMetrics records lifecycle metrics.
func WithManagerMetrics(metrics *Metrics) ManagerOption {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

// WithSubscriberOptions configures the subscriber feeding scripted plugins.
func WithSubscriberOptions(opts ...SubscriberOption) ManagerOption {
	return func(m *Manager) {
		m.subOpts = append(m.subOpts, opts...)
	}
}

// NewManager creates a plugin manager publishing through bus.
func NewManager(bus *eventbus.Bus, opts ...ManagerOption) *Manager {
	m := &Manager{
		bus:         bus,
		hostVersion: "0.0.0",
		logger:      slog.Default(),
		statuses:    make(map[string]*Status),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.luaHost != nil {
		subOpts := append([]SubscriberOption{
			WithSubscriberLogger(m.logger),
			WithSubscriberMetrics(m.metrics),
		}, m.subOpts...)
		m.subscriber = NewSubscriber(bus, m.luaHost, subOpts...)
	}
	return m
}

// Add registers an in-process plugin to be started by Start.
func (m *Manager) Add(p pluginsdk.Plugin) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return oops.Code(CodeDuplicatePlugin).With("plugin", p.Name()).Errorf("cannot add plugins after start")
	}
	for _, existing := range m.inproc {
		if existing.Name() == p.Name() {
			return oops.Code(CodeDuplicatePlugin).With("plugin", p.Name()).Errorf("plugin %s already added", p.Name())
		}
	}
	m.inproc = append(m.inproc, p)
	return nil
}

// Discover finds all valid plugins in the plugins directory. Directories
// without a manifest or with an invalid one are logged and skipped.
func (m *Manager) Discover(_ context.Context) ([]*DiscoveredPlugin, error) {
	if m.pluginsDir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(m.pluginsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, oops.With("dir", m.pluginsDir).Wrapf(err, "read plugins directory")
	}

	var found []*DiscoveredPlugin
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		pluginDir := filepath.Join(m.pluginsDir, entry.Name())
		data, err := os.ReadFile(filepath.Join(pluginDir, ManifestFile)) //nolint:gosec // path built from ReadDir entries
		if err != nil {
			m.logger.Warn("skipping plugin without manifest", "dir", entry.Name(), "error", err)
			continue
		}

		manifest, err := ParseManifest(data)
		if err != nil {
			errutil.Log(context.Background(), m.logger, slog.LevelWarn, "skipping plugin with invalid manifest", err, "dir", entry.Name())
			continue
		}

		found = append(found, &DiscoveredPlugin{Manifest: manifest, Dir: pluginDir})
	}
	return found, nil
}

// Start runs plugin startup in three phases: handler registration for
// every added plugin in Add order, loading of discovered scripted plugins,
// then OnInit for each registered plugin. Every handler is therefore bound
// before the first init emit. Plugin failures are logged, recorded in
// Status and leave no handlers behind; only a failure to scan the plugins
// directory is returned.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return nil
	}
	m.started = true

	var registered []*running
	for _, p := range m.inproc {
		if r := m.registerInProcess(ctx, p); r != nil {
			registered = append(registered, r)
		}
	}

	discovered, err := m.Discover(ctx)
	for _, dp := range discovered {
		m.startLua(ctx, dp)
	}

	for _, r := range registered {
		m.initInProcess(ctx, r)
	}

	m.metrics.setActive(len(m.active))
	if err != nil {
		return err
	}
	m.logger.InfoContext(ctx, "plugins started", "active", len(m.active), "known", len(m.order))
	return nil
}

func (m *Manager) track(name, version, runtime string) *Status {
	st := &Status{Name: name, Version: version, Runtime: runtime}
	if _, seen := m.statuses[name]; !seen {
		m.order = append(m.order, name)
	}
	m.statuses[name] = st
	return st
}

func (m *Manager) registerInProcess(ctx context.Context, p pluginsdk.Plugin) *running {
	name := p.Name()
	st := m.track(name, p.Version(), RuntimeInProcess)

	if err := p.RegisterHandlers(ctx, m.bus.Scoped(name)); err != nil {
		m.fail(ctx, st, PhaseRegister, asCode(pluginsdk.CodeInitializationFailed, name, err))
		return nil
	}

	st.Active = true
	r := &running{
		name:    name,
		version: p.Version(),
		runtime: RuntimeInProcess,
		plugin:  p,
		sc:      newServerContext(name, p.Version(), m.bus, m.logger),
	}
	m.active = append(m.active, r)
	return r
}

func (m *Manager) initInProcess(ctx context.Context, r *running) {
	if err := r.plugin.OnInit(ctx, r.sc); err != nil {
		m.fail(ctx, m.statuses[r.name], PhaseInit, asCode(pluginsdk.CodeInitializationFailed, r.name, err))
		m.deactivate(r)
		return
	}
	m.logger.InfoContext(ctx, "plugin started", "plugin", r.name, "version", r.version, "runtime", RuntimeInProcess)
}

func (m *Manager) deactivate(r *running) {
	for i, a := range m.active {
		if a == r {
			m.active = append(m.active[:i], m.active[i+1:]...)
			return
		}
	}
}

func (m *Manager) startLua(ctx context.Context, dp *DiscoveredPlugin) {
	manifest := dp.Manifest
	name := manifest.Name

	if prev, ok := m.statuses[name]; ok && prev.Active {
		m.logger.WarnContext(ctx, "skipping plugin with duplicate name", "plugin", name, "dir", dp.Dir)
		return
	}
	st := m.track(name, manifest.Version, RuntimeLua)

	if m.luaHost == nil {
		st.Error = "no Lua host configured"
		m.logger.WarnContext(ctx, "no Lua host configured, skipping Lua plugin", "plugin", name)
		return
	}

	if err := manifest.CheckCompatible(m.hostVersion); err != nil {
		m.fail(ctx, st, PhaseLoad, pluginsdk.ErrInitializationFailed(name, err))
		return
	}
	if err := m.luaHost.Load(ctx, manifest, dp.Dir); err != nil {
		m.fail(ctx, st, PhaseLoad, pluginsdk.ErrInitializationFailed(name, err))
		return
	}
	if m.enforcer != nil {
		if err := m.enforcer.SetGrants(name, manifest.Capabilities); err != nil {
			_ = m.luaHost.Unload(ctx, name)
			m.fail(ctx, st, PhaseLoad, pluginsdk.ErrInitializationFailed(name, err))
			return
		}
	}
	if err := m.subscriber.Subscribe(manifest); err != nil {
		_ = m.luaHost.Unload(ctx, name)
		if m.enforcer != nil {
			m.enforcer.RemoveGrants(name)
		}
		m.fail(ctx, st, PhaseLoad, pluginsdk.ErrInitializationFailed(name, err))
		return
	}

	st.Active = true
	m.active = append(m.active, &running{
		name:     name,
		version:  manifest.Version,
		runtime:  RuntimeLua,
		manifest: manifest,
	})
	m.logger.InfoContext(ctx, "plugin started", "plugin", name, "version", manifest.Version, "runtime", RuntimeLua, "events", manifest.Events)
}

// fail removes every handler the plugin registered and records err.
func (m *Manager) fail(ctx context.Context, st *Status, phase string, err error) {
	removed := m.bus.UnregisterOwner(st.Name)
	st.Active = false
	st.Error = err.Error()
	m.metrics.recordFailure(st.Name, phase)
	errutil.Log(ctx, m.logger, slog.LevelError, "plugin failed to start", err,
		"plugin", st.Name,
		"phase", phase,
		"handlers_removed", removed,
	)
}

// Stop shuts active plugins down in reverse start order. Every plugin is
// stopped even if an earlier one fails; failures are joined in the result.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for i := len(m.active) - 1; i >= 0; i-- {
		r := m.active[i]
		if err := m.stopOne(ctx, r); err != nil {
			m.metrics.recordFailure(r.name, PhaseShutdown)
			errutil.Log(ctx, m.logger, slog.LevelError, "plugin shutdown failed", err, "plugin", r.name)
			m.statuses[r.name].Error = err.Error()
			errs = append(errs, err)
		}
		m.statuses[r.name].Active = false
	}
	m.active = nil
	m.metrics.setActive(0)

	if m.luaHost != nil {
		if err := m.luaHost.Close(ctx); err != nil {
			errs = append(errs, oops.With("operation", "close_lua_host").Wrap(err))
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) stopOne(ctx context.Context, r *running) error {
	defer m.bus.UnregisterOwner(r.name)

	if r.runtime == RuntimeLua {
		if m.enforcer != nil {
			m.enforcer.RemoveGrants(r.name)
		}
		if err := m.luaHost.Unload(ctx, r.name); err != nil {
			return pluginsdk.ErrExecution(r.name, err)
		}
		return nil
	}

	if err := r.plugin.OnShutdown(ctx, r.sc); err != nil {
		return asCode(pluginsdk.CodeExecution, r.name, err)
	}
	m.logger.InfoContext(ctx, "plugin stopped", "plugin", r.name)
	return nil
}

// asCode classifies err under code unless it already carries that code.
func asCode(code, name string, err error) error {
	if errutil.Code(err) == code {
		return err
	}
	if code == pluginsdk.CodeExecution {
		return pluginsdk.ErrExecution(name, err)
	}
	return pluginsdk.ErrInitializationFailed(name, err)
}

// Active returns the names of active plugins in start order.
func (m *Manager) Active() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := make([]string, len(m.active))
	for i, r := range m.active {
		names[i] = r.name
	}
	return names
}

// Statuses reports every plugin the manager tried to start, in start order.
func (m *Manager) Statuses() []Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Status, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, *m.statuses[name])
	}
	return out
}
