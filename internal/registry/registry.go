// Package registry holds the configured speech providers and constructs
// their adapters.
//
// Provider construction goes through a static table mapping adapter names to
// constructor functions, built at startup — there is no runtime reflection.
// Loading a configuration produces an immutable snapshot of priority-ordered
// candidates per category; reloads swap the snapshot atomically so in-flight
// requests keep the candidate list they started with.
package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/parlancehq/parlance/pkg/speech"
)

// ErrAdapterNotRegistered is returned by [Registry.Load] when a descriptor
// references an adapter name with no registered constructor.
var ErrAdapterNotRegistered = errors.New("registry: adapter not registered")

// ErrNotLoaded is returned by [Registry.Candidates] before the first
// successful Load. Calling the orchestrator without configuration is a
// programming error and fails loudly.
var ErrNotLoaded = errors.New("registry: no configuration loaded")

// Descriptor is the identity and policy for one configured provider
// instance. Descriptors are immutable once loaded; reconfiguration replaces
// the whole set.
type Descriptor struct {
	// Name uniquely identifies this provider instance (e.g. "openai-eu").
	Name string

	// Category is the operation family this provider serves.
	Category speech.Category

	// Adapter selects the constructor in the registration table
	// (e.g. "openai", "elevenlabs", "deepgram"). Defaults to Name.
	Adapter string

	// Priority orders candidates; lower values are tried first. Equal
	// priorities keep their configuration order.
	Priority int

	// Enabled excludes the provider from selection when false without
	// removing its configuration.
	Enabled bool

	// Settings is the opaque key→value map handed to the constructor.
	Settings map[string]string
}

// adapterName returns the constructor name for d.
func (d Descriptor) adapterName() string {
	if d.Adapter != "" {
		return d.Adapter
	}
	return d.Name
}

// fingerprint canonicalizes the settings map so adapter instances can be
// cached across reloads that don't change a provider's construction inputs.
func (d Descriptor) fingerprint() string {
	keys := make([]string, 0, len(d.Settings))
	for k := range d.Settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(d.adapterName())
	for _, k := range keys {
		b.WriteByte(0)
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(d.Settings[k])
	}
	return b.String()
}

// Constructor builds an adapter instance from a descriptor. Construction
// failures (bad settings, missing credentials) surface at load time, never
// at call time.
type Constructor func(Descriptor) (speech.Adapter, error)

// Candidate pairs a descriptor with its shared adapter instance.
type Candidate struct {
	Descriptor Descriptor
	Adapter    speech.Adapter
}

// snapshot is one immutable generation of loaded providers.
type snapshot struct {
	byCategory map[speech.Category][]Candidate
	all        []Candidate
}

// Registry owns the constructor table and the current provider snapshot.
// Safe for concurrent use; Candidates is lock-free.
type Registry struct {
	mu    sync.Mutex
	table map[string]Constructor
	// instances caches adapters by (adapter name, settings fingerprint) so
	// reloads reuse existing instances instead of reconstructing them.
	instances map[string]speech.Adapter

	snap atomic.Pointer[snapshot]
}

// New creates a registry with an empty constructor table.
func New() *Registry {
	return &Registry{
		table:     make(map[string]Constructor),
		instances: make(map[string]speech.Adapter),
	}
}

// Register adds a constructor under name. Subsequent registrations with the
// same name overwrite the previous one. Call before Load.
func (r *Registry) Register(name string, ctor Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.table[name] = ctor
}

// Load validates descs, constructs (or reuses) adapter instances, and swaps
// in the new snapshot. On error nothing changes and the previous snapshot
// stays active. Requests already holding the old snapshot are unaffected
// either way.
func (r *Registry) Load(descs []Descriptor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	seen := make(map[string]bool, len(descs))
	next := &snapshot{byCategory: make(map[speech.Category][]Candidate)}

	for i, d := range descs {
		prefix := fmt.Sprintf("providers[%d]", i)
		if d.Name == "" {
			errs = append(errs, fmt.Errorf("%s: name is required", prefix))
			continue
		}
		if seen[d.Name] {
			errs = append(errs, fmt.Errorf("%s: duplicate provider name %q", prefix, d.Name))
			continue
		}
		seen[d.Name] = true

		if !d.Category.IsValid() {
			errs = append(errs, fmt.Errorf("%s: category %q is invalid; valid values: stt, tts", prefix, d.Category))
			continue
		}

		ctor, ok := r.table[d.adapterName()]
		if !ok {
			errs = append(errs, fmt.Errorf("%s: %w: %q", prefix, ErrAdapterNotRegistered, d.adapterName()))
			continue
		}

		key := d.fingerprint()
		adapter, ok := r.instances[key]
		if !ok {
			var err error
			adapter, err = ctor(d)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: construct %q: %w", prefix, d.Name, err))
				continue
			}
			r.instances[key] = adapter
		}

		c := Candidate{Descriptor: d, Adapter: adapter}
		next.all = append(next.all, c)
		if d.Enabled {
			next.byCategory[d.Category] = append(next.byCategory[d.Category], c)
		}
	}

	if err := errors.Join(errs...); err != nil {
		return err
	}

	// Stable sort preserves configuration order among equal priorities,
	// which keeps fallback order deterministic.
	for cat := range next.byCategory {
		list := next.byCategory[cat]
		sort.SliceStable(list, func(i, j int) bool {
			return list[i].Descriptor.Priority < list[j].Descriptor.Priority
		})
	}

	r.snap.Store(next)
	slog.Info("provider registry loaded",
		"providers", len(next.all),
		"stt", len(next.byCategory[speech.CategorySTT]),
		"tts", len(next.byCategory[speech.CategoryTTS]))
	return nil
}

// Candidates returns the priority-ordered enabled providers for category.
// The returned slice belongs to an immutable snapshot; callers must not
// modify it.
func (r *Registry) Candidates(category speech.Category) ([]Candidate, error) {
	snap := r.snap.Load()
	if snap == nil {
		return nil, ErrNotLoaded
	}
	return snap.byCategory[category], nil
}

// All returns every loaded provider, enabled or not, in configuration
// order. Used by the health monitor so that disabled providers still get
// probed.
func (r *Registry) All() []Candidate {
	snap := r.snap.Load()
	if snap == nil {
		return nil
	}
	return snap.all
}

// Lookup returns the candidate with the given provider name, if loaded.
func (r *Registry) Lookup(name string) (Candidate, bool) {
	snap := r.snap.Load()
	if snap == nil {
		return Candidate{}, false
	}
	for _, c := range snap.all {
		if c.Descriptor.Name == name {
			return c, true
		}
	}
	return Candidate{}, false
}
