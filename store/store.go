// Package store holds the client-side view of the feed: a bounded window of
// recent server messages, the events they carried keyed by id, per-request,
// per-entity and per-trace indices, and the integration health and entity
// snapshots derived from events.
package store

import (
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/domody/syris/errors"
	"github.com/domody/syris/metric"
	"github.com/domody/syris/pkg/buffer"
	"github.com/domody/syris/pkg/clock"
	"github.com/domody/syris/protocol"
)

// Defaults for Config.
const (
	DefaultRingCapacity = 3000
	DefaultIndexCap     = 2000
)

// Config sizes the store.
type Config struct {
	// RingCapacity is the number of server messages retained.
	RingCapacity int `json:"ring_capacity" yaml:"ring_capacity"`
	// IndexCap is the number of event ids kept per index key.
	IndexCap int `json:"index_cap" yaml:"index_cap"`
}

// DefaultConfig returns the default store sizing.
func DefaultConfig() Config {
	return Config{RingCapacity: DefaultRingCapacity, IndexCap: DefaultIndexCap}
}

// Validate checks the sizing.
func (c Config) Validate() error {
	if c.RingCapacity < 0 || c.IndexCap < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "store", "Validate", "check capacities")
	}
	return nil
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock stamping snapshot updates.
func WithClock(c clock.Clock) Option {
	return func(s *Store) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics exports store metrics to registry.
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(s *Store) {
		s.registry = registry
	}
}

// Store is safe for concurrent use. Ingest takes the write lock; every
// selector returns copies under the read lock.
type Store struct {
	mu sync.RWMutex

	ring       buffer.Buffer[protocol.ServerMessage]
	eventsByID map[string]protocol.TransportEvent
	// retained counts the ring messages carrying each event id, so an id
	// leaves eventsByID only when its last carrier is evicted.
	retained map[string]int

	byRequest *index
	byEntity  *index
	byTrace   *index

	integrations map[string]IntegrationHealth
	entities     map[string]Entity

	droppedNotices int64
	droppedTotal   int64
	lastDropped    *protocol.Dropped

	cfg      Config
	clock    clock.Clock
	logger   *slog.Logger
	registry *metric.MetricsRegistry
	metrics  *storeMetrics
}

// New creates a Store. Zero config fields take the defaults.
func New(cfg Config, opts ...Option) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.RingCapacity == 0 {
		cfg.RingCapacity = DefaultRingCapacity
	}
	if cfg.IndexCap == 0 {
		cfg.IndexCap = DefaultIndexCap
	}

	s := &Store{
		eventsByID:   make(map[string]protocol.TransportEvent),
		retained:     make(map[string]int),
		byRequest:    newIndex(cfg.IndexCap),
		byEntity:     newIndex(cfg.IndexCap),
		byTrace:      newIndex(cfg.IndexCap),
		integrations: make(map[string]IntegrationHealth),
		entities:     make(map[string]Entity),
		cfg:          cfg,
		clock:        clock.Real(),
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "store")

	ringOpts := []buffer.Option[protocol.ServerMessage]{
		buffer.WithOverflowPolicy[protocol.ServerMessage](buffer.DropOldest),
		buffer.WithDropCallback(s.onEvict),
	}
	if s.registry != nil {
		ringOpts = append(ringOpts, buffer.WithMetrics[protocol.ServerMessage](s.registry, "store_ring"))
		m, err := newStoreMetrics(s.registry)
		if err != nil {
			return nil, err
		}
		s.metrics = m
	}

	ring, err := buffer.NewCircularBuffer[protocol.ServerMessage](cfg.RingCapacity, ringOpts...)
	if err != nil {
		return nil, errors.Wrap(err, "store", "New", "create ring")
	}
	s.ring = ring
	return s, nil
}

// Ingest records one server message: it is appended to the ring, its
// events are stored and indexed, and the health and entity projections are
// updated from live events.
func (s *Store) Ingest(msg protocol.ServerMessage) {
	if msg == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Evictions triggered by this write run through onEvict before the
	// new events are recorded.
	if err := s.ring.Write(msg); err != nil {
		s.logger.Debug("Ring write failed", "error", err)
		return
	}

	switch m := msg.(type) {
	case protocol.EventMessage:
		s.recordEvent(m.Event)
		s.project(m.Event)
	case protocol.HistoryResult:
		for _, ev := range m.Items {
			s.recordEvent(ev)
		}
	case protocol.Dropped:
		s.droppedNotices++
		s.droppedTotal += m.Count
		d := m
		s.lastDropped = &d
		if s.metrics != nil {
			s.metrics.droppedNotices.Inc()
			s.metrics.droppedEvents.Add(float64(max(m.Count, 0)))
		}
		s.logger.Debug("Server dropped events", "count", m.Count, "reason", m.Reason, "stream", m.Stream)
	}

	if s.metrics != nil {
		s.metrics.eventsRetained.Set(float64(len(s.eventsByID)))
	}
}

// recordEvent stores ev by id and indexes it. Caller holds the write lock.
func (s *Store) recordEvent(ev protocol.TransportEvent) {
	if ev.ID == "" {
		return
	}
	s.eventsByID[ev.ID] = ev
	s.retained[ev.ID]++

	// Payload ids are promoted only where the event's own id is absent.
	links := protocol.EventLinks(ev)
	s.byRequest.add(links.RequestID, ev.ID)
	s.byEntity.add(links.EntityID, ev.ID)
	s.byTrace.add(links.TraceID, ev.ID)

	if s.metrics != nil {
		s.metrics.eventsIndexed.Inc()
	}
}

// project updates the integration health and entity snapshots. Caller
// holds the write lock.
func (s *Store) project(ev protocol.TransportEvent) {
	now := clock.NowMs(s.clock)

	if hp, ok := protocol.AsIntegrationHealthPayload(ev); ok {
		s.integrations[hp.IntegrationID] = mergeHealth(s.integrations[hp.IntegrationID], hp.IntegrationID, hp.Patch, now)
	}

	if e, ok := entityFromDevice(ev, now); ok {
		s.entities[e.EntityID] = e
	}
}

// onEvict runs for every message pushed out of the ring, while Ingest
// holds the write lock.
func (s *Store) onEvict(msg protocol.ServerMessage) {
	switch m := msg.(type) {
	case protocol.EventMessage:
		s.release(m.Event.ID)
	case protocol.HistoryResult:
		for _, ev := range m.Items {
			s.release(ev.ID)
		}
	}
}

func (s *Store) release(id string) {
	if id == "" {
		return
	}
	n := s.retained[id] - 1
	if n > 0 {
		s.retained[id] = n
		return
	}
	delete(s.retained, id)
	delete(s.eventsByID, id)
}

// Messages returns the retained server messages, oldest first.
func (s *Store) Messages() []protocol.ServerMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ring.Items()
}

// Event returns the retained event with the given id.
func (s *Store) Event(id string) (protocol.TransportEvent, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ev, ok := s.eventsByID[id]
	return ev, ok
}

// EventsForRequest returns the retained events indexed under a request id,
// oldest first. Ids whose events were evicted are skipped.
func (s *Store) EventsForRequest(requestID string) []protocol.TransportEvent {
	return s.resolve(s.byRequest, requestID)
}

// EventsForEntity returns the retained events indexed under an entity id.
func (s *Store) EventsForEntity(entityID string) []protocol.TransportEvent {
	return s.resolve(s.byEntity, entityID)
}

// EventsForTrace returns the retained events indexed under a trace id.
func (s *Store) EventsForTrace(traceID string) []protocol.TransportEvent {
	return s.resolve(s.byTrace, traceID)
}

func (s *Store) resolve(ix *index, key string) []protocol.TransportEvent {
	if key == "" {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := ix.ids(key)
	out := make([]protocol.TransportEvent, 0, len(ids))
	for _, id := range ids {
		if ev, ok := s.eventsByID[id]; ok {
			out = append(out, ev)
		}
	}
	return out
}

// RequestEventIDs returns the raw index entries for a request id,
// including ids that no longer resolve.
func (s *Store) RequestEventIDs(requestID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byRequest.ids(requestID)
}

// Integration returns the health snapshot of one integration.
func (s *Store) Integration(id string) (IntegrationHealth, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.integrations[id]
	return h, ok
}

// Integrations returns every health snapshot ordered by integration id.
func (s *Store) Integrations() []IntegrationHealth {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]IntegrationHealth, 0, len(s.integrations))
	for _, h := range s.integrations {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IntegrationID < out[j].IntegrationID })
	return out
}

// Entity returns the last known state of one entity.
func (s *Store) Entity(id string) (Entity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entities[id]
	return e, ok
}

// Entities returns every entity snapshot ordered by entity id.
func (s *Store) Entities() []Entity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entity, 0, len(s.entities))
	for _, e := range s.entities {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntityID < out[j].EntityID })
	return out
}

// Stats summarizes the store contents.
type Stats struct {
	Messages       int               `json:"messages"`
	Capacity       int               `json:"capacity"`
	Evicted        int64             `json:"evicted"`
	Events         int               `json:"events"`
	RequestKeys    int               `json:"request_keys"`
	EntityKeys     int               `json:"entity_keys"`
	TraceKeys      int               `json:"trace_keys"`
	Integrations   int               `json:"integrations"`
	Entities       int               `json:"entities"`
	DroppedNotices int64             `json:"dropped_notices"`
	DroppedTotal   int64             `json:"dropped_total"`
	LastDropped    *protocol.Dropped `json:"last_dropped,omitempty"`
}

// Stats returns a snapshot of the store counters.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{
		Messages:       s.ring.Size(),
		Capacity:       s.ring.Capacity(),
		Evicted:        s.ring.Stats().Drops(),
		Events:         len(s.eventsByID),
		RequestKeys:    s.byRequest.size(),
		EntityKeys:     s.byEntity.size(),
		TraceKeys:      s.byTrace.size(),
		Integrations:   len(s.integrations),
		Entities:       len(s.entities),
		DroppedNotices: s.droppedNotices,
		DroppedTotal:   s.droppedTotal,
	}
	if s.lastDropped != nil {
		d := *s.lastDropped
		st.LastDropped = &d
	}
	return st
}

// Filter selects events for Recent. Empty fields match everything.
type Filter struct {
	Kinds  []protocol.EventKind `json:"kinds,omitempty" yaml:"kinds,omitempty"`
	Levels []protocol.Level     `json:"levels,omitempty" yaml:"levels,omitempty"`
	// Search is matched case-insensitively against the event summary and
	// its ids.
	Search string `json:"search,omitempty" yaml:"search,omitempty"`
}

// Match reports whether ev passes the filter.
func (f Filter) Match(ev protocol.TransportEvent) bool {
	if len(f.Kinds) > 0 && !containsKind(f.Kinds, ev.Kind) {
		return false
	}
	if len(f.Levels) > 0 && !containsLevel(f.Levels, ev.Level) {
		return false
	}
	if f.Search == "" {
		return true
	}
	needle := strings.ToLower(f.Search)
	for _, hay := range []string{
		protocol.Summarize(ev), ev.ID, ev.RequestID, ev.EntityID, ev.TraceID, string(ev.Kind), ev.ToolName,
	} {
		if hay != "" && strings.Contains(strings.ToLower(hay), needle) {
			return true
		}
	}
	return false
}

func containsKind(kinds []protocol.EventKind, k protocol.EventKind) bool {
	for _, kind := range kinds {
		if kind == k {
			return true
		}
	}
	return false
}

func containsLevel(levels []protocol.Level, l protocol.Level) bool {
	for _, level := range levels {
		if level == l {
			return true
		}
	}
	return false
}

// Recent returns up to limit of the newest live events in the ring that
// match filter, oldest first. A non-positive limit returns every match.
func (s *Store) Recent(limit int, filter Filter) []protocol.TransportEvent {
	msgs := s.Messages()

	var newestFirst []protocol.TransportEvent
	for i := len(msgs) - 1; i >= 0; i-- {
		em, ok := msgs[i].(protocol.EventMessage)
		if !ok || !filter.Match(em.Event) {
			continue
		}
		newestFirst = append(newestFirst, em.Event)
		if limit > 0 && len(newestFirst) == limit {
			break
		}
	}

	out := make([]protocol.TransportEvent, len(newestFirst))
	for i, ev := range newestFirst {
		out[len(newestFirst)-1-i] = ev
	}
	return out
}
