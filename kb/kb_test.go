package kb

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/lmux/antenna-coverage/core"
	"github.com/lmux/antenna-coverage/model"
)

func testSite(id string) *model.AntennaSite {
	return &model.AntennaSite{
		ID:       id,
		Name:     "Site " + id,
		Position: core.GeoPoint{Lat: 46, Lon: 7},
		Profile:  core.AntennaProfile{OutputPowerDBw: 27, GainDBi: 19, SensitivityDBw: 85, FrequencyGHz: 2.4},
		Pattern:  core.ConstantPattern(19),
	}
}

func TestAddAndGetSite(t *testing.T) {
	store := NewKnowledgeBase()
	if err := store.AddSite(testSite("s1")); err != nil {
		t.Fatalf("AddSite error: %v", err)
	}
	got := store.GetSite("s1")
	if got == nil || got.Name != "Site s1" {
		t.Fatalf("GetSite returned %#v, want name Site s1", got)
	}
	if store.GetSite("missing") != nil {
		t.Fatalf("GetSite for unknown id should be nil")
	}
}

func TestAddSiteDuplicate(t *testing.T) {
	store := NewKnowledgeBase()
	if err := store.AddSite(testSite("s1")); err != nil {
		t.Fatalf("first AddSite error: %v", err)
	}
	if err := store.AddSite(testSite("s1")); err == nil {
		t.Fatalf("expected duplicate AddSite to fail")
	}
}

func TestAddSiteValidates(t *testing.T) {
	store := NewKnowledgeBase()

	bad := testSite("s1")
	bad.Pattern = bad.Pattern[:10]
	if err := store.AddSite(bad); !errors.Is(err, core.ErrInvalidConfiguration) {
		t.Fatalf("short pattern: err = %v", err)
	}

	bad = testSite("")
	if err := store.AddSite(bad); !errors.Is(err, core.ErrInvalidConfiguration) {
		t.Fatalf("empty id: err = %v", err)
	}

	bad = testSite("s2")
	bad.Profile.FrequencyGHz = -1
	if err := store.AddSite(bad); !errors.Is(err, core.ErrInvalidParameter) {
		t.Fatalf("negative frequency: err = %v", err)
	}
	if store.NumSites() != 0 {
		t.Fatalf("invalid sites were stored")
	}
}

func TestListSitesSorted(t *testing.T) {
	store := NewKnowledgeBase()
	for _, id := range []string{"c", "a", "b"} {
		if err := store.AddSite(testSite(id)); err != nil {
			t.Fatalf("AddSite error: %v", err)
		}
	}
	sites := store.ListSites()
	if len(sites) != 3 {
		t.Fatalf("ListSites len=%d, want 3", len(sites))
	}
	for i, want := range []string{"a", "b", "c"} {
		if sites[i].ID != want {
			t.Fatalf("ListSites[%d] = %q, want %q", i, sites[i].ID, want)
		}
	}
}

func TestRecordCoverageAndSubscribe(t *testing.T) {
	store := NewKnowledgeBase()
	if err := store.AddSite(testSite("s1")); err != nil {
		t.Fatalf("AddSite error: %v", err)
	}

	var events []Event
	unsubscribe := store.Subscribe(func(e Event) { events = append(events, e) })

	run := &model.CoverageRun{ID: "r1", SiteID: "s1", Result: &core.CoverageResult{}}
	if err := store.RecordCoverage(run); err != nil {
		t.Fatalf("RecordCoverage error: %v", err)
	}
	if got := store.LatestCoverage("s1"); got != run {
		t.Fatalf("LatestCoverage = %#v, want recorded run", got)
	}
	if err := store.RecordCoverage(&model.CoverageRun{SiteID: "missing"}); err == nil {
		t.Fatalf("expected RecordCoverage for unknown site to fail")
	}

	if err := store.RemoveSite("s1"); err != nil {
		t.Fatalf("RemoveSite error: %v", err)
	}
	if store.LatestCoverage("s1") != nil {
		t.Fatalf("coverage should be dropped with its site")
	}

	unsubscribe()
	if err := store.AddSite(testSite("s2")); err != nil {
		t.Fatalf("AddSite error: %v", err)
	}

	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].Type != EventCoverageUpdated || events[0].Run != run {
		t.Fatalf("first event = %v, want coverage update", events[0].Type)
	}
	if events[1].Type != EventSiteRemoved || events[1].Site.ID != "s1" {
		t.Fatalf("second event = %v for %q, want site removal of s1", events[1].Type, events[1].Site.ID)
	}
}

func TestUnsubscribeKeepsOtherSubscribers(t *testing.T) {
	store := NewKnowledgeBase()
	var a, b int
	unsubA := store.Subscribe(func(Event) { a++ })
	store.Subscribe(func(Event) { b++ })
	unsubA()
	unsubA()

	if err := store.AddSite(testSite("s1")); err != nil {
		t.Fatalf("AddSite error: %v", err)
	}
	if a != 0 || b != 1 {
		t.Fatalf("a=%d b=%d, want 0 and 1", a, b)
	}
}

func TestConcurrentAccess(t *testing.T) {
	store := NewKnowledgeBase()
	if err := store.AddSite(testSite("s1")); err != nil {
		t.Fatalf("AddSite error: %v", err)
	}

	var wg sync.WaitGroup
	// Concurrent readers/writers
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = store.GetSite("s1")
			_ = store.ListSites()
			_ = store.LatestCoverage("s1")
		}()
		go func() {
			defer wg.Done()
			_ = store.RecordCoverage(&model.CoverageRun{ID: fmt.Sprintf("r%d", i), SiteID: "s1"})
		}()
	}
	wg.Wait()
}
