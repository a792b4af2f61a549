package kb

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/signalsfoundry/orbit-simulator/core"
	"github.com/signalsfoundry/orbit-simulator/model"
)

var (
	// ErrTemplateExists indicates a template name is already registered.
	ErrTemplateExists = errors.New("body template already exists")
	// ErrTemplateNotFound re-exports the core sentinel so callers can match
	// either.
	ErrTemplateNotFound = core.ErrTemplateNotFound
	// ErrAssetUnknown indicates an asset reference was never registered.
	ErrAssetUnknown = errors.New("asset not registered")
	// ErrAssetPending indicates an asset is registered but still loading.
	ErrAssetPending = errors.New("asset still loading")
)

// EventType indicates what kind of change happened in the KB.
type EventType int

const (
	EventTemplateAdded EventType = iota
	EventTemplateRemoved
	EventAssetResolved
	EventAssetFailed
)

// Event is emitted to subscribers when something interesting happens.
type Event struct {
	Type     EventType
	Template model.BodyTemplate
	Asset    string
	Err      error
}

type assetState struct {
	loaded bool
	err    error
}

// KnowledgeBase is an in-memory, thread-safe catalogue of body templates
// and the load state of the presentation assets they reference.
//
// Templates are stored and returned by value, so every body created from
// one gets its own copy of the physical state. Assets are tracked by
// reference only.
type KnowledgeBase struct {
	mu sync.RWMutex

	templates map[string]model.BodyTemplate
	assets    map[string]*assetState

	nextSub int
	subs    map[int]func(Event)
}

// NewKnowledgeBase constructs an empty KB.
func NewKnowledgeBase() *KnowledgeBase {
	return &KnowledgeBase{
		templates: make(map[string]model.BodyTemplate),
		assets:    make(map[string]*assetState),
		subs:      make(map[int]func(Event)),
	}
}

// AddTemplate registers a new template. It returns ErrTemplateExists if
// the name is taken. A template naming an asset registers that asset as
// pending unless it is already known.
func (kb *KnowledgeBase) AddTemplate(t model.BodyTemplate) error {
	if t.Name == "" {
		return fmt.Errorf("template name is required")
	}

	kb.mu.Lock()
	if _, exists := kb.templates[t.Name]; exists {
		kb.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrTemplateExists, t.Name)
	}
	kb.templates[t.Name] = t
	if t.Asset != "" {
		if _, ok := kb.assets[t.Asset]; !ok {
			kb.assets[t.Asset] = &assetState{}
		}
	}
	subs := kb.subscribersLocked()
	kb.mu.Unlock()

	notify(subs, Event{Type: EventTemplateAdded, Template: t})
	return nil
}

// RemoveTemplate deletes a template. Bodies already created from it are
// unaffected.
func (kb *KnowledgeBase) RemoveTemplate(name string) error {
	kb.mu.Lock()
	t, ok := kb.templates[name]
	if !ok {
		kb.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrTemplateNotFound, name)
	}
	delete(kb.templates, name)
	subs := kb.subscribersLocked()
	kb.mu.Unlock()

	notify(subs, Event{Type: EventTemplateRemoved, Template: t})
	return nil
}

// Template returns a copy of the named template. It satisfies
// core.TemplateSource.
func (kb *KnowledgeBase) Template(name string) (model.BodyTemplate, error) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	t, ok := kb.templates[name]
	if !ok {
		return model.BodyTemplate{}, fmt.Errorf("%w: %q", ErrTemplateNotFound, name)
	}
	return t, nil
}

// ListTemplates returns a snapshot of all templates ordered by name.
func (kb *KnowledgeBase) ListTemplates() []model.BodyTemplate {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	res := make([]model.BodyTemplate, 0, len(kb.templates))
	for _, t := range kb.templates {
		res = append(res, t)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Name < res[j].Name })
	return res
}

// RegisterAsset marks ref as loading. Registering a known asset is a
// no-op.
func (kb *KnowledgeBase) RegisterAsset(ref string) {
	if ref == "" {
		return
	}
	kb.mu.Lock()
	defer kb.mu.Unlock()
	if _, ok := kb.assets[ref]; !ok {
		kb.assets[ref] = &assetState{}
	}
}

// ResolveAsset records the outcome of loading ref and notifies
// subscribers. A nil loadErr marks the asset ready.
func (kb *KnowledgeBase) ResolveAsset(ref string, loadErr error) {
	kb.mu.Lock()
	st, ok := kb.assets[ref]
	if !ok {
		st = &assetState{}
		kb.assets[ref] = st
	}
	st.loaded = loadErr == nil
	st.err = loadErr
	subs := kb.subscribersLocked()
	kb.mu.Unlock()

	ev := Event{Type: EventAssetResolved, Asset: ref}
	if loadErr != nil {
		ev.Type = EventAssetFailed
		ev.Err = loadErr
	}
	notify(subs, ev)
}

// AssetReady returns nil once ref has loaded successfully. It satisfies
// core.AssetResolver.
func (kb *KnowledgeBase) AssetReady(ref string) error {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	st, ok := kb.assets[ref]
	switch {
	case !ok:
		return fmt.Errorf("%w: %q", ErrAssetUnknown, ref)
	case st.err != nil:
		return st.err
	case !st.loaded:
		return fmt.Errorf("%w: %q", ErrAssetPending, ref)
	}
	return nil
}

// PendingAssets lists assets that have neither loaded nor failed.
func (kb *KnowledgeBase) PendingAssets() []string {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	var res []string
	for ref, st := range kb.assets {
		if !st.loaded && st.err == nil {
			res = append(res, ref)
		}
	}
	sort.Strings(res)
	return res
}

// Subscribe registers a callback for KB events. It returns an unsubscribe function.
func (kb *KnowledgeBase) Subscribe(fn func(Event)) (unsubscribe func()) {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	id := kb.nextSub
	kb.nextSub++
	kb.subs[id] = fn

	return func() {
		kb.mu.Lock()
		defer kb.mu.Unlock()
		delete(kb.subs, id)
	}
}

func (kb *KnowledgeBase) subscribersLocked() []func(Event) {
	ids := make([]int, 0, len(kb.subs))
	for id := range kb.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	subs := make([]func(Event), 0, len(ids))
	for _, id := range ids {
		subs = append(subs, kb.subs[id])
	}
	return subs
}

// Subscribers run outside the lock to avoid deadlocks.
func notify(subs []func(Event), ev Event) {
	for _, sub := range subs {
		sub(ev)
	}
}
