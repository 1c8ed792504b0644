package cache

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/saxonscout/scoutcache/internal/cache/storage"
	"github.com/sirupsen/logrus"
)

// DefaultPrefix namespaces every key the persistent tier writes.
const DefaultPrefix = "saxon_scout_cache_"

// PersistentOptions configures a PersistentCache.
type PersistentOptions struct {
	// Prefix defaults to DefaultPrefix
	Prefix string
	// Clock defaults to wall time
	Clock clock.Clock
	// OnFault is called for every recovered fault, after logging
	OnFault FaultHandler
}

// PersistentCache is the durable tier. Entries are stored as JSON
// {"data":...,"timestamp":...,"expiry":...} under Prefix+key. Get returns
// the data field as json.RawMessage; use Decode to get a typed value.
type PersistentCache struct {
	store   storage.Storage
	prefix  string
	clock   clock.Clock
	onFault FaultHandler
	stats   *counters
}

// storedEntry is Entry as read back from storage, with data left encoded.
type storedEntry struct {
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
	Expiry    int64           `json:"expiry"`
}

func NewPersistent(store storage.Storage, opts PersistentOptions) *PersistentCache {
	if opts.Prefix == "" {
		opts.Prefix = DefaultPrefix
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	return &PersistentCache{
		store:   store,
		prefix:  opts.Prefix,
		clock:   opts.Clock,
		onFault: opts.OnFault,
		stats:   &counters{},
	}
}

func (p *PersistentCache) Name() string {
	return string(TierPersistent)
}

// Prefix returns the namespace prefix of stored keys.
func (p *PersistentCache) Prefix() string {
	return p.prefix
}

func (p *PersistentCache) Set(key string, data any, expiry time.Duration) {
	raw, fault := encodeEntry(key, newEntry(data, expiry, p.clock.Now()))
	if fault != nil {
		p.report(fault)
		return
	}
	if err := p.store.SetItem(p.prefix+key, raw); err != nil {
		p.report(writeFault(key, err))
	}
}

func (p *PersistentCache) Get(key string) (any, bool) {
	ent, ok := p.load(key)
	if !ok {
		p.stats.miss()
		return nil, false
	}

	if !ent.valid(p.clock.Now()) {
		if err := p.store.RemoveItem(p.prefix + key); err != nil {
			p.report(&Fault{Kind: FaultStorage, Key: key, Err: err})
		}
		logrus.Debugf("Evicted expired persistent entry %s", key)
		p.stats.miss()
		return nil, false
	}

	p.stats.hit()
	return ent.Data, true
}

func (p *PersistentCache) Delete(key string) {
	if err := p.store.RemoveItem(p.prefix + key); err != nil {
		p.report(&Fault{Kind: FaultStorage, Key: key, Err: err})
	}
}

// Clear removes every key carrying the prefix and nothing else.
func (p *PersistentCache) Clear() {
	for _, full := range p.keys() {
		p.remove(full)
	}
}

// ClearExpired removes expired entries and entries that no longer decode.
func (p *PersistentCache) ClearExpired() {
	now := p.clock.Now()
	removed := 0

	for _, full := range p.keys() {
		key := strings.TrimPrefix(full, p.prefix)
		raw, ok, err := p.store.GetItem(full)
		if err != nil {
			p.report(&Fault{Kind: FaultStorage, Key: key, Err: err})
			continue
		}
		if !ok {
			continue
		}
		ent, fault := decodeEntry(key, raw)
		if fault != nil || !ent.valid(now) {
			p.remove(full)
			removed++
		}
	}

	if removed > 0 {
		logrus.Debugf("Swept %d expired persistent entries", removed)
	}
}

func (p *PersistentCache) Size() int {
	return len(p.keys())
}

// Close closes the underlying storage.
func (p *PersistentCache) Close() error {
	return p.store.Close()
}

func (p *PersistentCache) load(key string) (storedEntry, bool) {
	raw, ok, err := p.store.GetItem(p.prefix + key)
	if err != nil {
		p.report(&Fault{Kind: FaultStorage, Key: key, Err: err})
		return storedEntry{}, false
	}
	if !ok {
		return storedEntry{}, false
	}

	ent, fault := decodeEntry(key, raw)
	if fault != nil {
		p.report(fault)
		return storedEntry{}, false
	}
	return ent, true
}

func (p *PersistentCache) keys() []string {
	keys, err := p.store.Keys(p.prefix)
	if err != nil {
		p.report(&Fault{Kind: FaultStorage, Key: p.prefix + "*", Err: err})
		return nil
	}
	// backends filter already; this tier must never touch a foreign key
	owned := keys[:0]
	for _, k := range keys {
		if strings.HasPrefix(k, p.prefix) {
			owned = append(owned, k)
		}
	}
	return owned
}

func (p *PersistentCache) remove(full string) {
	if err := p.store.RemoveItem(full); err != nil {
		p.report(&Fault{Kind: FaultStorage, Key: strings.TrimPrefix(full, p.prefix), Err: err})
	}
}

func (p *PersistentCache) report(f *Fault) {
	p.stats.fault()
	logFault(f)
	if p.onFault != nil {
		p.onFault(f)
	}
}

func encodeEntry(key string, ent Entry) ([]byte, *Fault) {
	raw, err := json.Marshal(ent)
	if err != nil {
		return nil, &Fault{Kind: FaultSerialization, Key: key, Err: err}
	}
	return raw, nil
}

func decodeEntry(key string, raw []byte) (storedEntry, *Fault) {
	var ent storedEntry
	if err := json.Unmarshal(raw, &ent); err != nil {
		return storedEntry{}, &Fault{Kind: FaultDeserialization, Key: key, Err: err}
	}
	return ent, nil
}

func (e storedEntry) valid(now time.Time) bool {
	return Entry{Timestamp: e.Timestamp, Expiry: e.Expiry}.Valid(now)
}
