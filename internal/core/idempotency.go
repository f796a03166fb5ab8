package core

// Dedup tiers, as reported to metrics.
const (
	TierLRU      = "lru"
	TierPostgres = "postgres"
)

// DBIdempotencyChecker answers whether the command log already holds a
// command. It backs the in-memory tier after restarts and evictions.
type DBIdempotencyChecker interface {
	IsDuplicate(commandType string, idempotencyKey string) (bool, error)
}

// IdempotencyChecker rejects replays of (command type, key) pairs. The LRU
// answers recent keys; older ones fall through to the command log.
type IdempotencyChecker struct {
	lru       *IdempotencyLRU
	dbChecker DBIdempotencyChecker
	metrics   *IdempotencyMetrics
}

func NewIdempotencyChecker(capacity int, dbChecker DBIdempotencyChecker) *IdempotencyChecker {
	return &IdempotencyChecker{
		lru:       NewIdempotencyLRU(capacity),
		dbChecker: dbChecker,
		metrics:   NewIdempotencyMetrics(),
	}
}

// IsDuplicate consults both tiers. A command-log error admits the command:
// the unique index on event_log.commands still rejects a real replay when
// the batch is written.
func (ic *IdempotencyChecker) IsDuplicate(commandType string, idempotencyKey string) bool {
	key := CompositeKey(commandType, idempotencyKey)
	if ic.lru.Contains(key) {
		ic.metrics.RecordDuplicate(commandType, TierLRU)
		return true
	}
	if ic.dbChecker == nil {
		return false
	}

	found, err := ic.dbChecker.IsDuplicate(commandType, idempotencyKey)
	switch {
	case err != nil:
		ic.metrics.RecordTier2Error()
		return false
	case found:
		ic.metrics.RecordDuplicate(commandType, TierPostgres)
		ic.lru.Add(key)
		return true
	}
	return false
}

// SeenLocally checks the LRU tier only. Replay uses it, since the command
// log already contains every replayed command.
func (ic *IdempotencyChecker) SeenLocally(commandType string, idempotencyKey string) bool {
	return ic.lru.Contains(CompositeKey(commandType, idempotencyKey))
}

// MarkProcessed records an applied command.
func (ic *IdempotencyChecker) MarkProcessed(commandType string, idempotencyKey string) {
	ic.lru.Add(CompositeKey(commandType, idempotencyKey))
}

func (ic *IdempotencyChecker) GetMetrics() *IdempotencyMetrics {
	return ic.metrics
}

// CompositeKey is the LRU key of a command.
func CompositeKey(commandType, idempotencyKey string) string {
	return commandType + ":" + idempotencyKey
}

// IdempotencyLRU is a fixed-capacity LRU set. Entries live in a slice and
// link to each other by index, so a full cache allocates nothing on Add.
// Not safe for concurrent use; only the core goroutine touches it.
type IdempotencyLRU struct {
	slots     []lruSlot
	index     map[string]int32
	head      int32 // most recent, -1 when empty
	tail      int32 // least recent
	evictions int64
}

type lruSlot struct {
	key        string
	prev, next int32
}

func NewIdempotencyLRU(capacity int) *IdempotencyLRU {
	if capacity < 1 {
		capacity = 1
	}
	return &IdempotencyLRU{
		slots: make([]lruSlot, 0, capacity),
		index: make(map[string]int32, capacity),
		head:  -1,
		tail:  -1,
	}
}

// Contains reports whether key is present and marks it most recent.
func (l *IdempotencyLRU) Contains(key string) bool {
	i, ok := l.index[key]
	if ok {
		l.touch(i)
	}
	return ok
}

// Add inserts key, evicting the least recent entry when full.
func (l *IdempotencyLRU) Add(key string) {
	if i, ok := l.index[key]; ok {
		l.touch(i)
		return
	}

	var i int32
	if len(l.slots) < cap(l.slots) {
		i = int32(len(l.slots))
		l.slots = append(l.slots, lruSlot{})
	} else {
		i = l.tail
		l.unlink(i)
		delete(l.index, l.slots[i].key)
		l.evictions++
	}

	l.slots[i].key = key
	l.index[key] = i
	l.pushFront(i)
}

func (l *IdempotencyLRU) touch(i int32) {
	if l.head == i {
		return
	}
	l.unlink(i)
	l.pushFront(i)
}

func (l *IdempotencyLRU) pushFront(i int32) {
	l.slots[i].prev = -1
	l.slots[i].next = l.head
	if l.head >= 0 {
		l.slots[l.head].prev = i
	}
	l.head = i
	if l.tail < 0 {
		l.tail = i
	}
}

func (l *IdempotencyLRU) unlink(i int32) {
	s := l.slots[i]
	if s.prev >= 0 {
		l.slots[s.prev].next = s.next
	} else {
		l.head = s.next
	}
	if s.next >= 0 {
		l.slots[s.next].prev = s.prev
	} else {
		l.tail = s.prev
	}
}

func (l *IdempotencyLRU) Size() int {
	return len(l.index)
}

func (l *IdempotencyLRU) Evictions() int64 {
	return l.evictions
}

// IdempotencyMetrics counts duplicates per command type and tier.
// Core goroutine only.
type IdempotencyMetrics struct {
	duplicates  map[string][2]int64 // command type -> {lru, postgres}
	tier2Errors int64

	// observe mirrors each duplicate into the exported metrics.
	observe func(commandType, tier string)
}

func NewIdempotencyMetrics() *IdempotencyMetrics {
	return &IdempotencyMetrics{duplicates: make(map[string][2]int64)}
}

func (m *IdempotencyMetrics) RecordDuplicate(commandType string, tier string) {
	if m.observe != nil {
		m.observe(commandType, tier)
	}
	c := m.duplicates[commandType]
	if tier == TierLRU {
		c[0]++
	} else {
		c[1]++
	}
	m.duplicates[commandType] = c
}

func (m *IdempotencyMetrics) RecordTier2Error() {
	m.tier2Errors++
}

func (m *IdempotencyMetrics) GetDuplicates(commandType string) (lru int64, postgres int64) {
	c := m.duplicates[commandType]
	return c[0], c[1]
}

func (m *IdempotencyMetrics) GetTier2Errors() int64 {
	return m.tier2Errors
}
