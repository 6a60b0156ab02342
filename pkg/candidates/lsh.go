package candidates

import (
	"encoding/binary"
	"fmt"
	"sort"
	"sync"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/kennylajara/news/pkg/entity"
	"github.com/kennylajara/news/pkg/tokenindex"
)

// LSHConfig tunes the MinHash-LSH matcher.
type LSHConfig struct {
	NumPerm   int     `yaml:"num_perm"`  // permutations per signature
	Threshold float64 `yaml:"threshold"` // target Jaccard similarity
	Seed      uint64  `yaml:"seed"`
	CacheSize int     `yaml:"cache_size"` // query signatures kept in the LRU
}

// DefaultLSHConfig matches a 0.3 Jaccard threshold with 50 permutations.
func DefaultLSHConfig() LSHConfig {
	return LSHConfig{NumPerm: 50, Threshold: 0.3, Seed: 1, CacheSize: 4096}
}

type lshMember struct {
	id       int64
	typ      entity.Type
	shingles []string
	keys     []uint64
}

// one band table per entity type
type lshTable struct {
	buckets []map[uint64][]int64
}

func newTable(bands int) *lshTable {
	t := &lshTable{buckets: make([]map[uint64][]int64, bands)}
	for i := range t.buckets {
		t.buckets[i] = make(map[uint64][]int64)
	}
	return t
}

// LSHMatcher indexes CANONICAL entities per type and finds names with
// similar character bigrams in sub-quadratic time.
type LSHMatcher struct {
	mu     sync.RWMutex
	index  *tokenindex.Index
	hasher *MinHasher
	bands  int
	rows   int

	tables  map[entity.Type]*lshTable
	members map[int64]*lshMember
	cache   *lru.Cache[string, Signature]
}

// NewLSHMatcher creates an empty matcher. Query entities are resolved
// through index.
func NewLSHMatcher(index *tokenindex.Index, cfg LSHConfig) (*LSHMatcher, error) {
	def := DefaultLSHConfig()
	if cfg.NumPerm <= 0 {
		cfg.NumPerm = def.NumPerm
	}
	if cfg.Threshold <= 0 || cfg.Threshold >= 1 {
		if cfg.Threshold != 0 {
			return nil, fmt.Errorf("lsh threshold %v out of (0,1)", cfg.Threshold)
		}
		cfg.Threshold = def.Threshold
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = def.CacheSize
	}

	cache, err := lru.New[string, Signature](cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("lsh cache: %w", err)
	}
	bands, rows := OptimalParams(cfg.Threshold, cfg.NumPerm)

	return &LSHMatcher{
		index:   index,
		hasher:  NewMinHasher(cfg.NumPerm, cfg.Seed),
		bands:   bands,
		rows:    rows,
		tables:  make(map[entity.Type]*lshTable),
		members: make(map[int64]*lshMember),
		cache:   cache,
	}, nil
}

// Params returns the band layout in use.
func (m *LSHMatcher) Params() (bands, rows int) { return m.bands, m.rows }

// Len returns the number of indexed entities.
func (m *LSHMatcher) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.members)
}

// Upsert indexes a CANONICAL entity, or drops it when it is anything else.
func (m *LSHMatcher) Upsert(e entity.Entity) {
	if e.Classification != entity.Canonical {
		m.Remove(e.ID)
		return
	}
	sh := Shingles(e.Name)
	sig := m.signature(sh)
	keys := m.bandKeys(sig)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeLocked(e.ID)

	t, ok := m.tables[e.Type]
	if !ok {
		t = newTable(m.bands)
		m.tables[e.Type] = t
	}
	for band, key := range keys {
		t.buckets[band][key] = append(t.buckets[band][key], e.ID)
	}
	m.members[e.ID] = &lshMember{id: e.ID, typ: e.Type, shingles: sh, keys: keys}
}

// Remove drops an entity from the buckets.
func (m *LSHMatcher) Remove(id int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeLocked(id)
}

func (m *LSHMatcher) removeLocked(id int64) {
	mem, ok := m.members[id]
	if !ok {
		return
	}
	t := m.tables[mem.typ]
	for band, key := range mem.keys {
		ids := t.buckets[band][key]
		for i, v := range ids {
			if v == id {
				ids = append(ids[:i], ids[i+1:]...)
				break
			}
		}
		if len(ids) == 0 {
			delete(t.buckets[band], key)
		} else {
			t.buckets[band][key] = ids
		}
	}
	delete(m.members, id)
}

// FindCandidates probes the buckets of the entity's type, keeps strictly
// longer names, and sorts by exact Jaccard similarity, highest first.
func (m *LSHMatcher) FindCandidates(id int64, max int) ([]Candidate, error) {
	self, ok := m.index.Entry(id)
	if !ok {
		return nil, fmt.Errorf("lsh candidates for %d: %w", id, ErrUnknownEntity)
	}
	return m.Query(self.Name, self.Type, self.NameLength, id, max), nil
}

// Query finds indexed entities of typ similar to name. exclude is skipped.
func (m *LSHMatcher) Query(name string, typ entity.Type, nameLength int, exclude int64, max int) []Candidate {
	sh := Shingles(name)
	if len(sh) == 0 {
		return nil
	}
	key := tokenindex.NormalizeName(name)
	sig, ok := m.cache.Get(key)
	if !ok {
		sig = m.signature(sh)
		m.cache.Add(key, sig)
	}
	keys := m.bandKeys(sig)

	m.mu.RLock()
	t, ok := m.tables[typ]
	if !ok {
		m.mu.RUnlock()
		return nil
	}
	seen := make(map[int64]bool)
	type hit struct {
		id  int64
		sim float64
	}
	var hits []hit
	for band, k := range keys {
		for _, cid := range t.buckets[band][k] {
			if cid == exclude || seen[cid] {
				continue
			}
			seen[cid] = true
			hits = append(hits, hit{id: cid, sim: Jaccard(sh, m.members[cid].shingles)})
		}
	}
	m.mu.RUnlock()

	out := make([]Candidate, 0, len(hits))
	for _, h := range hits {
		entry, ok := m.index.Entry(h.id)
		if !ok || entry.NameLength <= nameLength {
			continue
		}
		out = append(out, fromEntry(entry, KindMinHash, h.sim))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Similarity != out[j].Similarity {
			return out[i].Similarity > out[j].Similarity
		}
		return out[i].ID < out[j].ID
	})
	return capAt(out, max)
}

func (m *LSHMatcher) signature(shingles []string) Signature {
	return m.hasher.Sign(shingles)
}

func (m *LSHMatcher) bandKeys(sig Signature) []uint64 {
	keys := make([]uint64, m.bands)
	buf := make([]byte, 8*m.rows)
	for band := range m.bands {
		for r := range m.rows {
			binary.LittleEndian.PutUint64(buf[8*r:], sig[band*m.rows+r])
		}
		keys[band] = xxhash.Sum64(buf)
	}
	return keys
}
