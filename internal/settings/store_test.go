package settings

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "settings.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestLoadDefaults(t *testing.T) {
	store := newTestStore(t)

	got, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if got.BrokerPort != 1883 {
		t.Errorf("BrokerPort = %d, want 1883", got.BrokerPort)
	}
	if got.TopicPrefix != "frigate" {
		t.Errorf("TopicPrefix = %q, want frigate", got.TopicPrefix)
	}
	if got.MinConfidence != 70 {
		t.Errorf("MinConfidence = %d, want 70", got.MinConfidence)
	}
	if !got.AutoClose {
		t.Error("AutoClose should default to true")
	}
	if got.RefreshInterval != 500*time.Millisecond {
		t.Errorf("RefreshInterval = %v, want 500ms", got.RefreshInterval)
	}
	if got.OverlayDuration != 15*time.Second {
		t.Errorf("OverlayDuration = %v, want 15s", got.OverlayDuration)
	}
}

func TestSetAndLoad(t *testing.T) {
	store := newTestStore(t)

	if err := store.Set(KeyBrokerHost, "mqtt.internal"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := store.Set(KeyMinConfidence, "85"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.BrokerHost != "mqtt.internal" {
		t.Errorf("BrokerHost = %q", got.BrokerHost)
	}
	if got.MinConfidence != 85 {
		t.Errorf("MinConfidence = %d", got.MinConfidence)
	}
}

func TestSeedDoesNotOverwrite(t *testing.T) {
	store := newTestStore(t)

	if err := store.Set(KeyTriggerObjects, "person"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	err := store.Seed(map[string]string{
		KeyTriggerObjects: "car",
		KeyBrokerHost:     "broker.lan",
	})
	if err != nil {
		t.Fatalf("Seed: %v", err)
	}

	got, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.TriggerObjects != "person" {
		t.Errorf("TriggerObjects = %q, seed overwrote user value", got.TriggerObjects)
	}
	if got.BrokerHost != "broker.lan" {
		t.Errorf("BrokerHost = %q, seed should fill absent key", got.BrokerHost)
	}
}

func TestMalformedValueFallsBack(t *testing.T) {
	store := newTestStore(t)

	if err := store.Set(KeyBrokerPort, "not-a-number"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.BrokerPort != 1883 {
		t.Errorf("BrokerPort = %d, want default 1883", got.BrokerPort)
	}
}

func TestChangePredicatesAreDisjoint(t *testing.T) {
	base := Settings{
		NVRURL:     "http://nvr:5000",
		BrokerHost: "broker", BrokerPort: 1883, TopicPrefix: "frigate",
		TriggerObjects: "person", MinConfidence: 70,
	}

	broker := base
	broker.BrokerPort = 8883
	if !broker.BrokerChanged(base) {
		t.Error("port change should trip BrokerChanged")
	}
	if broker.FilterChanged(base) || broker.DiscoveryChanged(base) {
		t.Error("port change tripped an unrelated predicate")
	}

	filter := base
	filter.NewEventsOnly = true
	if !filter.FilterChanged(base) {
		t.Error("new-only change should trip FilterChanged")
	}
	if filter.BrokerChanged(base) || filter.DiscoveryChanged(base) {
		t.Error("filter change tripped an unrelated predicate")
	}

	disco := base
	disco.NVRPassword = "secret"
	if !disco.DiscoveryChanged(base) {
		t.Error("credential change should trip DiscoveryChanged")
	}
	if disco.BrokerChanged(base) || disco.FilterChanged(base) {
		t.Error("discovery change tripped an unrelated predicate")
	}

	if base.BrokerChanged(base) || base.FilterChanged(base) || base.DiscoveryChanged(base) {
		t.Error("identical snapshots should trip nothing")
	}
}

func TestSplitList(t *testing.T) {
	got := SplitList(" person, Car ,,dog ")
	want := []string{"person", "Car", "dog"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("SplitList = %v, want %v", got, want)
	}
	if got := SplitList(""); len(got) != 0 {
		t.Errorf("SplitList(empty) = %v, want empty", got)
	}
}

func TestSeedValuesOmitsZeroes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vigilo.yml")
	body := []byte("broker:\n  host: broker.lan\nfilters:\n  min_confidence: 90\n  new_only: true\n")
	if err := os.WriteFile(path, body, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	values := cfg.SeedValues()

	if values[KeyBrokerHost] != "broker.lan" {
		t.Errorf("broker host = %q", values[KeyBrokerHost])
	}
	if values[KeyMinConfidence] != "90" {
		t.Errorf("min confidence = %q", values[KeyMinConfidence])
	}
	if values[KeyNewEventsOnly] != "true" {
		t.Errorf("new only = %q", values[KeyNewEventsOnly])
	}
	if _, ok := values[KeyBrokerPort]; ok {
		t.Error("zero port should not be seeded")
	}
	if _, ok := values[KeyNVRURL]; ok {
		t.Error("empty url should not be seeded")
	}
}

func TestExplicitFalseAndZeroAreSeeded(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vigilo.yml")
	body := []byte("overlay:\n  auto_close: false\nfilters:\n  min_confidence: 0\n  new_only: false\n")
	if err := os.WriteFile(path, body, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	store := newTestStore(t)
	if err := store.Seed(cfg.SeedValues()); err != nil {
		t.Fatalf("Seed: %v", err)
	}
	got, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if got.AutoClose {
		t.Error("auto_close: false in the config file was ignored")
	}
	if got.MinConfidence != 0 {
		t.Errorf("MinConfidence = %d, want explicit 0", got.MinConfidence)
	}
	if got.NewEventsOnly {
		t.Error("new_only: false should seed false")
	}

	// Absent keys still defer to the store defaults.
	empty, err := LoadFile(filepath.Join(dir, "empty.yml"))
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	values := empty.SeedValues()
	for _, key := range []string{KeyAutoClose, KeyMinConfidence, KeyNewEventsOnly} {
		if _, ok := values[key]; ok {
			t.Errorf("absent %s should not be seeded", key)
		}
	}
}

func TestLoadFileMissing(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "nope.yml"))
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if len(cfg.SeedValues()) != 0 {
		t.Error("missing file should yield no seed values")
	}
}
