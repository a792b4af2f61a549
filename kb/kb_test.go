package kb

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/signalsfoundry/orbit-simulator/core"
	"github.com/signalsfoundry/orbit-simulator/model"
)

func TestAddAndGetTemplate(t *testing.T) {
	store := NewKnowledgeBase()
	tpl := model.BodyTemplate{Name: "Satellite", Role: model.RoleSecondary, Mass: 1000}
	if err := store.AddTemplate(tpl); err != nil {
		t.Fatalf("AddTemplate error: %v", err)
	}
	got, err := store.Template("Satellite")
	if err != nil {
		t.Fatalf("Template error: %v", err)
	}
	if got.Mass != 1000 || got.Role != model.RoleSecondary {
		t.Fatalf("Template returned %#v", got)
	}
}

func TestTemplateReturnsIndependentCopies(t *testing.T) {
	store := NewKnowledgeBase()
	if err := store.AddTemplate(model.BodyTemplate{Name: "Satellite", Mass: 1000, Position: model.Vec{X: 1}}); err != nil {
		t.Fatalf("AddTemplate error: %v", err)
	}
	first, _ := store.Template("Satellite")
	first.Position.X = 99
	first.Mass = 1

	second, _ := store.Template("Satellite")
	if second.Position.X != 1 || second.Mass != 1000 {
		t.Fatalf("mutating a returned template leaked into the catalogue: %#v", second)
	}
}

func TestAddTemplateDuplicate(t *testing.T) {
	store := NewKnowledgeBase()
	if err := store.AddTemplate(model.BodyTemplate{Name: "Earth"}); err != nil {
		t.Fatalf("first AddTemplate error: %v", err)
	}
	err := store.AddTemplate(model.BodyTemplate{Name: "Earth"})
	if !errors.Is(err, ErrTemplateExists) {
		t.Fatalf("duplicate AddTemplate err = %v, want ErrTemplateExists", err)
	}
}

func TestTemplateNotFoundMatchesCoreSentinel(t *testing.T) {
	store := NewKnowledgeBase()
	_, err := store.Template("missing")
	if !errors.Is(err, core.ErrTemplateNotFound) {
		t.Fatalf("err = %v, want core.ErrTemplateNotFound", err)
	}
	if err := store.RemoveTemplate("missing"); !errors.Is(err, ErrTemplateNotFound) {
		t.Fatalf("RemoveTemplate err = %v, want ErrTemplateNotFound", err)
	}
}

func TestListTemplatesSorted(t *testing.T) {
	store := NewKnowledgeBase()
	for _, name := range []string{"c", "a", "b"} {
		if err := store.AddTemplate(model.BodyTemplate{Name: name}); err != nil {
			t.Fatalf("AddTemplate error: %v", err)
		}
	}
	got := store.ListTemplates()
	if len(got) != 3 || got[0].Name != "a" || got[2].Name != "c" {
		t.Fatalf("ListTemplates = %#v", got)
	}
}

func TestAssetLifecycle(t *testing.T) {
	store := NewKnowledgeBase()
	if err := store.AssetReady("models/Earth.glb"); !errors.Is(err, ErrAssetUnknown) {
		t.Fatalf("unknown asset err = %v, want ErrAssetUnknown", err)
	}

	if err := store.AddTemplate(model.BodyTemplate{Name: "Earth", Asset: "models/Earth.glb"}); err != nil {
		t.Fatalf("AddTemplate error: %v", err)
	}
	if err := store.AssetReady("models/Earth.glb"); !errors.Is(err, ErrAssetPending) {
		t.Fatalf("pending asset err = %v, want ErrAssetPending", err)
	}
	if got := store.PendingAssets(); len(got) != 1 || got[0] != "models/Earth.glb" {
		t.Fatalf("PendingAssets = %v", got)
	}

	store.ResolveAsset("models/Earth.glb", nil)
	if err := store.AssetReady("models/Earth.glb"); err != nil {
		t.Fatalf("resolved asset err = %v", err)
	}

	loadErr := errors.New("404")
	store.ResolveAsset("models/Satellite.glb", loadErr)
	if err := store.AssetReady("models/Satellite.glb"); !errors.Is(err, loadErr) {
		t.Fatalf("failed asset err = %v, want %v", err, loadErr)
	}
	if got := store.PendingAssets(); len(got) != 0 {
		t.Fatalf("PendingAssets after resolution = %v", got)
	}
}

func TestSubscribeAndUnsubscribe(t *testing.T) {
	store := NewKnowledgeBase()

	var events []Event
	unsubscribe := store.Subscribe(func(e Event) {
		events = append(events, e)
	})

	if err := store.AddTemplate(model.BodyTemplate{Name: "Earth", Asset: "earth"}); err != nil {
		t.Fatalf("AddTemplate error: %v", err)
	}
	store.ResolveAsset("earth", errors.New("boom"))

	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].Type != EventTemplateAdded || events[0].Template.Name != "Earth" {
		t.Fatalf("first event = %#v", events[0])
	}
	if events[1].Type != EventAssetFailed || events[1].Asset != "earth" || events[1].Err == nil {
		t.Fatalf("second event = %#v", events[1])
	}

	unsubscribe()
	if err := store.RemoveTemplate("Earth"); err != nil {
		t.Fatalf("RemoveTemplate error: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("unsubscribed callback still invoked, got %d events", len(events))
	}
}

func TestConcurrentAccess(t *testing.T) {
	store := NewKnowledgeBase()
	if err := store.AddTemplate(model.BodyTemplate{Name: "Earth", Asset: "earth"}); err != nil {
		t.Fatalf("AddTemplate error: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = store.Template("Earth")
			_ = store.ListTemplates()
			_ = store.AssetReady("earth")
		}()
		go func() {
			defer wg.Done()
			_ = store.AddTemplate(model.BodyTemplate{Name: fmt.Sprintf("sat-%d", i)})
			store.ResolveAsset("earth", nil)
		}()
	}
	wg.Wait()

	if got := len(store.ListTemplates()); got != 11 {
		t.Fatalf("ListTemplates len=%d, want 11", got)
	}
}
