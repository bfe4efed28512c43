// Package memory implements BoundedMemory, the four-class per-agent memory
// store with TTL and pressure eviction described in spec §4.4. It is
// grounded in the framework's core.MemoryStore (a single-map TTL cache) but
// generalized to four independently-capped classes with importance-ranked
// eviction and scored retrieval.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/itsneelabh/agentcore/core"
)

// ScoreWeights are the α/β/γ coefficients in f(item) = α·sim + β·importance
// + γ·recency. The spec deliberately leaves these unpinned; callers are
// expected to tune them, and tests assert monotonicity rather than exact
// ranks (spec §9, Open Questions).
type ScoreWeights struct {
	Similarity float64
	Importance float64
	Recency    float64
}

// DefaultScoreWeights weights similarity and importance equally (0.4 each)
// and recency at half that (0.2).
func DefaultScoreWeights() ScoreWeights {
	return ScoreWeights{Similarity: 0.4, Importance: 0.4, Recency: 0.2}
}

// Embedder produces a similarity score in [0,1] between a query and an
// item's content. When nil, BoundedMemory falls back to keyword overlap.
type Embedder func(query, content string) float64

// EvictionEvent is emitted whenever store() or handle_pressure() removes an
// item, so the owning Agent (or its telemetry sink) can observe churn.
type EvictionEvent struct {
	Class  core.MemoryClass
	ItemID string
	Reason string // "capacity" | "expired" | "pressure"
}

// EvictionSink receives eviction events; nil is a valid no-op sink.
type EvictionSink func(EvictionEvent)

// BoundedMemory is the four-class memory store owned exclusively by one
// Agent. All per-class operations are serialized by a per-class mutex so
// that concurrent store/retrieve on different classes never contend.
type BoundedMemory struct {
	cfg      core.MemoryConfig
	weights  ScoreWeights
	embed    Embedder
	onEvict  EvictionSink
	classes  map[core.MemoryClass]*classStore
	clock    core.Clock
}

type classStore struct {
	mu    sync.Mutex
	cap   int
	items map[string]*core.MemoryItem
}

// New constructs a BoundedMemory with the given config. embed may be nil, in
// which case retrieve falls back to keyword-overlap scoring.
func New(cfg core.MemoryConfig, embed Embedder, onEvict EvictionSink) *BoundedMemory {
	return NewWithClock(cfg, embed, onEvict, core.RealClock{})
}

// NewWithClock is New with an injectable clock, for deterministic TTL tests.
func NewWithClock(cfg core.MemoryConfig, embed Embedder, onEvict EvictionSink, clock core.Clock) *BoundedMemory {
	m := &BoundedMemory{
		cfg:     cfg,
		weights: DefaultScoreWeights(),
		embed:   embed,
		onEvict: onEvict,
		clock:   clock,
		classes: make(map[core.MemoryClass]*classStore, 4),
	}
	m.classes[core.MemoryShort] = &classStore{cap: cfg.MaxShort, items: map[string]*core.MemoryItem{}}
	m.classes[core.MemoryLong] = &classStore{cap: cfg.MaxLong, items: map[string]*core.MemoryItem{}}
	m.classes[core.MemoryEpisodic] = &classStore{cap: cfg.MaxEpisodic, items: map[string]*core.MemoryItem{}}
	m.classes[core.MemorySemantic] = &classStore{cap: cfg.MaxSemantic, items: map[string]*core.MemoryItem{}}
	return m
}

// SetWeights overrides the scoring coefficients.
func (m *BoundedMemory) SetWeights(w ScoreWeights) { m.weights = w }

func (m *BoundedMemory) emit(ev EvictionEvent) {
	if m.onEvict != nil {
		m.onEvict(ev)
	}
}

// Store inserts item, assigning an ID and CreatedAt/LastAccess if unset, and
// clamping Importance to [0,1]. If the owning class is at capacity, the
// lowest-importance item is evicted first, ties broken by oldest
// LastAccess.
func (m *BoundedMemory) Store(ctx context.Context, item core.MemoryItem) (string, error) {
	cs, ok := m.classes[item.Class]
	if !ok {
		return "", core.NewError(core.KindValidation, "memory", "", core.ErrInvalidRequest, false)
	}
	item.ClampImportance()
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	now := m.clock.Now()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	if item.LastAccess.IsZero() {
		item.LastAccess = now
	}

	cs.mu.Lock()
	defer cs.mu.Unlock()

	if len(cs.items) >= cs.cap {
		if victim, ok := lowestImportance(cs.items); ok {
			delete(cs.items, victim)
			m.emit(EvictionEvent{Class: item.Class, ItemID: victim, Reason: "capacity"})
		}
	}
	cp := item
	cs.items[cp.ID] = &cp
	return cp.ID, nil
}

// lowestImportance returns the id of the item with lowest Importance,
// breaking ties by oldest LastAccess.
func lowestImportance(items map[string]*core.MemoryItem) (string, bool) {
	var victim *core.MemoryItem
	for _, it := range items {
		if victim == nil ||
			it.Importance < victim.Importance ||
			(it.Importance == victim.Importance && it.LastAccess.Before(victim.LastAccess)) {
			victim = it
		}
	}
	if victim == nil {
		return "", false
	}
	return victim.ID, true
}

// Scored pairs an item with its retrieval score, for deterministic ordering.
type Scored struct {
	Item  core.MemoryItem
	Score float64
}

// Retrieve ranks items by f(item) = α·sim + β·importance + γ·recency and
// returns the top `limit`. If class is "" (zero value), all classes are
// searched. Ties are broken by ItemID so ordering is deterministic.
func (m *BoundedMemory) Retrieve(ctx context.Context, query string, class core.MemoryClass, limit int) ([]Scored, error) {
	now := m.clock.Now()
	var candidates []Scored

	search := func(cs *classStore, cls core.MemoryClass) {
		cs.mu.Lock()
		defer cs.mu.Unlock()
		for _, it := range cs.items {
			if it.TTL > 0 && now.After(it.CreatedAt.Add(it.TTL)) {
				continue
			}
			sim := m.similarity(query, it.Content)
			recency := recencyScore(now, it.LastAccess, m.cfg.MaxAge)
			score := m.weights.Similarity*sim + m.weights.Importance*it.Importance + m.weights.Recency*recency
			candidates = append(candidates, Scored{Item: *it, Score: score})
		}
	}

	if class == "" {
		for cls, cs := range m.classes {
			search(cs, cls)
		}
	} else {
		cs, ok := m.classes[class]
		if !ok {
			return nil, core.NewError(core.KindValidation, "memory", "", core.ErrInvalidRequest, false)
		}
		search(cs, class)
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].Item.ID < candidates[j].Item.ID
	})

	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}

	m.touch(candidates)
	return candidates, nil
}

// touch updates LastAccess for every returned item, reflecting that
// retrieval itself is an access for future recency scoring.
func (m *BoundedMemory) touch(scored []Scored) {
	now := m.clock.Now()
	for _, s := range scored {
		cs := m.classes[s.Item.Class]
		cs.mu.Lock()
		if it, ok := cs.items[s.Item.ID]; ok {
			it.LastAccess = now
		}
		cs.mu.Unlock()
	}
}

func (m *BoundedMemory) similarity(query, content string) float64 {
	if m.embed != nil {
		return m.embed(query, content)
	}
	return keywordOverlap(query, content)
}

// keywordOverlap is the fallback similarity function for agents without an
// embedding function: the fraction of query tokens also present in content.
func keywordOverlap(query, content string) float64 {
	qTokens := tokenize(query)
	if len(qTokens) == 0 {
		return 0
	}
	cSet := make(map[string]struct{})
	for _, t := range tokenize(content) {
		cSet[t] = struct{}{}
	}
	hits := 0
	for _, t := range qTokens {
		if _, ok := cSet[t]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(qTokens))
}

func tokenize(s string) []string {
	return strings.Fields(strings.ToLower(s))
}

// recencyScore maps age-since-last-access linearly onto [0,1] against
// maxAge; items older than maxAge score 0. maxAge<=0 disables recency decay
// (always scores 1).
func recencyScore(now, lastAccess time.Time, maxAge time.Duration) float64 {
	if maxAge <= 0 {
		return 1
	}
	age := now.Sub(lastAccess)
	if age <= 0 {
		return 1
	}
	if age >= maxAge {
		return 0
	}
	return 1 - float64(age)/float64(maxAge)
}

// CleanupExpired removes items whose TTL or the global MaxAge has elapsed,
// across all classes.
func (m *BoundedMemory) CleanupExpired(ctx context.Context) int {
	now := m.clock.Now()
	removed := 0
	for cls, cs := range m.classes {
		cs.mu.Lock()
		for id, it := range cs.items {
			expired := (it.TTL > 0 && now.After(it.CreatedAt.Add(it.TTL))) ||
				(m.cfg.MaxAge > 0 && now.After(it.CreatedAt.Add(m.cfg.MaxAge)))
			if expired {
				delete(cs.items, id)
				removed++
				m.emit(EvictionEvent{Class: cls, ItemID: id, Reason: "expired"})
			}
		}
		cs.mu.Unlock()
	}
	return removed
}

// HandlePressure shrinks every class by 10% via the capacity eviction rule
// when invoked; the caller decides when total-vs-capacity crosses
// PressureThreshold by calling Pressure(). Store does not check pressure,
// and nothing in the module calls HandlePressure automatically.
func (m *BoundedMemory) HandlePressure(ctx context.Context) int {
	removed := 0
	for cls, cs := range m.classes {
		cs.mu.Lock()
		target := len(cs.items) - (len(cs.items)+9)/10 // shrink by ceil(10%)
		for len(cs.items) > target && len(cs.items) > 0 {
			victim, ok := lowestImportance(cs.items)
			if !ok {
				break
			}
			delete(cs.items, victim)
			removed++
			m.emit(EvictionEvent{Class: cls, ItemID: victim, Reason: "pressure"})
		}
		cs.mu.Unlock()
	}
	return removed
}

// Pressure reports the fraction of total capacity currently occupied across
// all classes, for comparison against PressureThreshold (default 0.9).
func (m *BoundedMemory) Pressure() float64 {
	var total, capSum int
	for _, cs := range m.classes {
		cs.mu.Lock()
		total += len(cs.items)
		capSum += cs.cap
		cs.mu.Unlock()
	}
	if capSum == 0 {
		return 0
	}
	return float64(total) / float64(capSum)
}

// Count returns the current item count for class.
func (m *BoundedMemory) Count(class core.MemoryClass) int {
	cs, ok := m.classes[class]
	if !ok {
		return 0
	}
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return len(cs.items)
}
