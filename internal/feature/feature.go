// Package feature holds the static catalog of capability modules and the
// activator that brings them up for a logged-in profile. Enablement comes
// from the profile's auto_features map; the catalog itself is fixed at build
// time.
package feature

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/accessmate/accessmate/internal/common"
	"github.com/accessmate/accessmate/internal/device"
	"github.com/accessmate/accessmate/internal/logging"
)

// HookFunc is the activation or deactivation entry point of a capability
// module. Hooks must be idempotent and must not block beyond module
// initialization; long-running work belongs on goroutines they spawn.
type HookFunc func(ctx context.Context) error

// Descriptor declares one capability module. An empty Platforms list means
// the feature runs everywhere; nil hooks make (de)activation a no-op, which
// suits integration shims whose work happens elsewhere.
type Descriptor struct {
	Name       string
	Platforms  []device.Platform
	Activate   HookFunc
	Deactivate HookFunc
}

func (d Descriptor) supports(p device.Platform) bool {
	return len(d.Platforms) == 0 || slices.Contains(d.Platforms, p)
}

// Activator walks the catalog in alphabetical order and invokes the hooks
// of enabled features. Activation is idempotent per feature.
type Activator struct {
	platform device.Platform
	log      logging.Logger

	mu      sync.Mutex
	catalog map[string]Descriptor
	active  map[string]bool
}

func NewActivator(platform device.Platform, log logging.Logger) *Activator {
	return &Activator{
		platform: platform,
		log:      log.With("component", "feature"),
		catalog:  make(map[string]Descriptor),
		active:   make(map[string]bool),
	}
}

// Register adds a descriptor to the catalog. Registering a duplicate name is
// an error; the catalog is meant to be assembled once at startup.
func (a *Activator) Register(d Descriptor) error {
	if d.Name == "" {
		return fmt.Errorf("%w: feature name is required", common.ErrValidation)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.catalog[d.Name]; ok {
		return fmt.Errorf("%w: feature %q already registered", common.ErrValidation, d.Name)
	}
	a.catalog[d.Name] = d
	return nil
}

// ActivateAll activates every registered feature that enabled marks true, in
// alphabetical name order. Features rejecting the current platform are
// skipped silently; a failing activator is logged and does not stop the
// rest. Already-active features are not re-activated.
func (a *Activator) ActivateAll(ctx context.Context, enabled map[string]bool) {
	for _, name := range a.names() {
		if !enabled[name] {
			continue
		}
		a.activate(ctx, name)
	}
}

func (a *Activator) activate(ctx context.Context, name string) {
	a.mu.Lock()
	d, ok := a.catalog[name]
	if !ok || a.active[name] || !d.supports(a.platform) {
		a.mu.Unlock()
		return
	}
	a.mu.Unlock()

	if d.Activate != nil {
		if err := d.Activate(ctx); err != nil {
			a.log.Warn(ctx, "feature activation failed", "feature", name, "error", err)
			return
		}
	}

	a.mu.Lock()
	a.active[name] = true
	a.mu.Unlock()
	a.log.Debug(ctx, "feature activated", "feature", name)
}

// DeactivateAll tears down every active feature, best effort, in
// alphabetical order. Failures are logged and ignored.
func (a *Activator) DeactivateAll(ctx context.Context) {
	for _, name := range a.names() {
		a.mu.Lock()
		d := a.catalog[name]
		wasActive := a.active[name]
		delete(a.active, name)
		a.mu.Unlock()

		if !wasActive || d.Deactivate == nil {
			continue
		}
		if err := d.Deactivate(ctx); err != nil {
			a.log.Warn(ctx, "feature deactivation failed", "feature", name, "error", err)
		}
	}
}

// Active returns the names of currently active features, sorted.
func (a *Activator) Active() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.active))
	for name := range a.active {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (a *Activator) names() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.catalog))
	for name := range a.catalog {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Builtin lists the stock capability modules. The hooks are nil because the
// modules live outside the core; wiring replaces them where a real
// implementation exists.
func Builtin() []Descriptor {
	return []Descriptor{
		{Name: "screen_reader"},
		{Name: "speech_recognition"},
		{Name: "text_to_speech"},
		{Name: "ocr"},
		{Name: "translation"},
		{Name: "web_scraping"},
		{Name: "narrator_integration", Platforms: []device.Platform{device.PlatformWindows}},
		{Name: "voiceover_integration", Platforms: []device.Platform{device.PlatformMacOS}},
		{Name: "orca_integration", Platforms: []device.Platform{device.PlatformLinux}},
	}
}
