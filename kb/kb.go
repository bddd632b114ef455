package kb

import (
	"fmt"
	"sort"
	"sync"

	"github.com/lmux/antenna-coverage/model"
)

// EventType indicates what kind of change happened in the KB.
type EventType int

const (
	EventSiteAdded EventType = iota
	EventSiteRemoved
	EventCoverageUpdated
)

func (t EventType) String() string {
	switch t {
	case EventSiteAdded:
		return "site_added"
	case EventSiteRemoved:
		return "site_removed"
	case EventCoverageUpdated:
		return "coverage_updated"
	default:
		return "unknown"
	}
}

// Event is emitted to subscribers when something interesting happens.
type Event struct {
	Type EventType
	Site model.AntennaSite
	// Run is set for EventCoverageUpdated.
	Run *model.CoverageRun
}

// KnowledgeBase is an in-memory, thread-safe store for antenna sites and
// their latest coverage runs.
type KnowledgeBase struct {
	mu sync.RWMutex

	sites map[string]*model.AntennaSite
	runs  map[string]*model.CoverageRun

	subs   map[int]func(Event)
	nextID int
}

// NewKnowledgeBase constructs an empty KB.
func NewKnowledgeBase() *KnowledgeBase {
	return &KnowledgeBase{
		sites: make(map[string]*model.AntennaSite),
		runs:  make(map[string]*model.CoverageRun),
		subs:  make(map[int]func(Event)),
	}
}

// AddSite validates and stores a new site. It returns an error if the ID
// already exists.
func (kb *KnowledgeBase) AddSite(s *model.AntennaSite) error {
	if err := s.Validate(); err != nil {
		return err
	}

	kb.mu.Lock()
	if _, exists := kb.sites[s.ID]; exists {
		kb.mu.Unlock()
		return fmt.Errorf("site with ID %q already exists", s.ID)
	}
	kb.sites[s.ID] = s
	subs := kb.snapshotSubs()
	kb.mu.Unlock()

	kb.notify(subs, Event{Type: EventSiteAdded, Site: *s})
	return nil
}

// RemoveSite deletes a site and its recorded coverage.
func (kb *KnowledgeBase) RemoveSite(id string) error {
	kb.mu.Lock()
	s, ok := kb.sites[id]
	if !ok {
		kb.mu.Unlock()
		return fmt.Errorf("site with ID %q not found", id)
	}
	delete(kb.sites, id)
	delete(kb.runs, id)
	subs := kb.snapshotSubs()
	kb.mu.Unlock()

	kb.notify(subs, Event{Type: EventSiteRemoved, Site: *s})
	return nil
}

// GetSite returns the site with the given ID, or nil if not found.
func (kb *KnowledgeBase) GetSite(id string) *model.AntennaSite {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return kb.sites[id]
}

// ListSites returns a snapshot of all sites ordered by ID.
func (kb *KnowledgeBase) ListSites() []*model.AntennaSite {
	kb.mu.RLock()
	res := make([]*model.AntennaSite, 0, len(kb.sites))
	for _, s := range kb.sites {
		res = append(res, s)
	}
	kb.mu.RUnlock()

	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res
}

// NumSites returns the number of registered sites.
func (kb *KnowledgeBase) NumSites() int {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return len(kb.sites)
}

// RecordCoverage stores run as the latest coverage for its site and
// notifies subscribers.
func (kb *KnowledgeBase) RecordCoverage(run *model.CoverageRun) error {
	if run == nil {
		return fmt.Errorf("coverage run is nil")
	}

	kb.mu.Lock()
	s, ok := kb.sites[run.SiteID]
	if !ok {
		kb.mu.Unlock()
		return fmt.Errorf("site with ID %q not found for coverage run", run.SiteID)
	}
	kb.runs[run.SiteID] = run
	event := Event{Type: EventCoverageUpdated, Site: *s, Run: run}
	subs := kb.snapshotSubs()
	kb.mu.Unlock()

	kb.notify(subs, event)
	return nil
}

// LatestCoverage returns the most recent run recorded for a site, or nil.
func (kb *KnowledgeBase) LatestCoverage(siteID string) *model.CoverageRun {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return kb.runs[siteID]
}

// Subscribe registers a callback for KB events. It returns an unsubscribe
// function. Callbacks run on the goroutine that made the change.
func (kb *KnowledgeBase) Subscribe(fn func(Event)) (unsubscribe func()) {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	id := kb.nextID
	kb.nextID++
	kb.subs[id] = fn

	return func() {
		kb.mu.Lock()
		defer kb.mu.Unlock()
		delete(kb.subs, id)
	}
}

// snapshotSubs must be called with kb.mu held.
func (kb *KnowledgeBase) snapshotSubs() []func(Event) {
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

// notify runs outside the lock so callbacks may call back into the KB.
func (kb *KnowledgeBase) notify(subs []func(Event), e Event) {
	for _, sub := range subs {
		sub(e)
	}
}
