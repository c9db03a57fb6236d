package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog/log"
)

var (
	ErrStore        = errors.New("store: operation failed")
	ErrDirRequired  = errors.New("store: data dir required")
	ErrInvalidGroup = errors.New("store: invalid group id")
	ErrInvalidValue = errors.New("store: invalid policy value")
)

const groupPrefix = "group/"

// Defaults apply to monitored groups without an explicit override.
type Defaults struct {
	Threshold      int
	TimeoutSeconds int
}

func DefaultDefaults() Defaults {
	return Defaults{Threshold: 5, TimeoutSeconds: 60}
}

// Policy is the persisted record for one monitored group.
type Policy struct {
	GroupID        int64     `json:"group_id"`
	Threshold      *int      `json:"threshold,omitempty"`
	TimeoutSeconds *int      `json:"timeout_seconds,omitempty"`
	AddedAt        time.Time `json:"added_at"`
}

type Config struct {
	Dir      string
	InMemory bool
	Defaults Defaults
}

// Store is the badger-backed whitelist and policy store.
type Store struct {
	db       *badger.DB
	defaults Defaults

	mu    sync.RWMutex
	cache map[int64]Policy
	gen   uint64
}

func Open(cfg Config) (*Store, error) {
	dir := strings.TrimSpace(cfg.Dir)
	if cfg.InMemory {
		dir = ""
	} else if dir == "" {
		return nil, ErrDirRequired
	}
	opts := badger.DefaultOptions(dir).
		WithInMemory(cfg.InMemory).
		WithLogger(badgerLogger{logger: log.Logger.With().Str("component", "badger").Logger()})
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: open %q: %v", ErrStore, dir, err)
	}
	defaults := cfg.Defaults
	if defaults == (Defaults{}) {
		defaults = DefaultDefaults()
	}
	return &Store{db: db, defaults: defaults}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Defaults() Defaults {
	return s.defaults
}

// ListMonitoredGroups returns monitored group ids in ascending order.
func (s *Store) ListMonitoredGroups(ctx context.Context) ([]int64, error) {
	policies, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]int64, 0, len(policies))
	for id := range policies {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (s *Store) IsMonitored(ctx context.Context, groupID int64) (bool, error) {
	policies, err := s.snapshot(ctx)
	if err != nil {
		return false, err
	}
	_, ok := policies[groupID]
	return ok, nil
}

// Policy returns the stored record for groupID.
func (s *Store) Policy(ctx context.Context, groupID int64) (Policy, bool, error) {
	policies, err := s.snapshot(ctx)
	if err != nil {
		return Policy{}, false, err
	}
	p, ok := policies[groupID]
	return p, ok, nil
}

// Threshold returns the group's threshold, or the default when unset. On a
// read failure the default is returned together with the error.
func (s *Store) Threshold(ctx context.Context, groupID int64) (int, error) {
	p, ok, err := s.Policy(ctx, groupID)
	if err != nil || !ok || p.Threshold == nil {
		return s.defaults.Threshold, err
	}
	return *p.Threshold, nil
}

// TimeoutSeconds returns the group's challenge window, or the default when unset.
func (s *Store) TimeoutSeconds(ctx context.Context, groupID int64) (int, error) {
	p, ok, err := s.Policy(ctx, groupID)
	if err != nil || !ok || p.TimeoutSeconds == nil {
		return s.defaults.TimeoutSeconds, err
	}
	return *p.TimeoutSeconds, nil
}

// AddGroup starts monitoring groupID with default policy. Adding an already
// monitored group reports false.
func (s *Store) AddGroup(ctx context.Context, groupID int64) (bool, error) {
	if groupID <= 0 {
		return false, fmt.Errorf("%w: %d", ErrInvalidGroup, groupID)
	}
	return s.mutate(ctx, groupID, func(_ Policy, exists bool) (Policy, bool, bool) {
		if exists {
			return Policy{}, false, false
		}
		return Policy{GroupID: groupID, AddedAt: time.Now().UTC()}, true, true
	})
}

// RemoveGroup stops monitoring groupID. Removing an unknown group reports false.
func (s *Store) RemoveGroup(ctx context.Context, groupID int64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	removed := false
	err := s.db.Update(func(txn *badger.Txn) error {
		key := groupKey(groupID)
		if _, err := txn.Get(key); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		removed = true
		return txn.Delete(key)
	})
	s.invalidate()
	if err != nil {
		return false, fmt.Errorf("%w: remove group=%d: %v", ErrStore, groupID, err)
	}
	return removed, nil
}

// SetThreshold overrides the reputation threshold of a monitored group.
func (s *Store) SetThreshold(ctx context.Context, groupID int64, threshold int) (bool, error) {
	if threshold < 0 {
		return false, fmt.Errorf("%w: threshold=%d", ErrInvalidValue, threshold)
	}
	return s.mutate(ctx, groupID, func(p Policy, exists bool) (Policy, bool, bool) {
		if !exists {
			return Policy{}, false, false
		}
		p.Threshold = &threshold
		return p, true, true
	})
}

// SetTimeout overrides the challenge window of a monitored group.
func (s *Store) SetTimeout(ctx context.Context, groupID int64, seconds int) (bool, error) {
	if seconds <= 0 {
		return false, fmt.Errorf("%w: timeout=%d", ErrInvalidValue, seconds)
	}
	return s.mutate(ctx, groupID, func(p Policy, exists bool) (Policy, bool, bool) {
		if !exists {
			return Policy{}, false, false
		}
		p.TimeoutSeconds = &seconds
		return p, true, true
	})
}

// mutate runs fn on the current record inside one badger transaction. fn
// returns the record to write, whether to write it, and the reported result.
func (s *Store) mutate(ctx context.Context, groupID int64, fn func(Policy, bool) (Policy, bool, bool)) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	var result bool
	err := s.db.Update(func(txn *badger.Txn) error {
		key := groupKey(groupID)
		current, exists, err := readPolicy(txn, key)
		if err != nil {
			return err
		}
		next, write, ok := fn(current, exists)
		result = ok
		if !write {
			return nil
		}
		raw, err := json.Marshal(next)
		if err != nil {
			return err
		}
		return txn.Set(key, raw)
	})
	s.invalidate()
	if err != nil {
		return false, fmt.Errorf("%w: group=%d: %v", ErrStore, groupID, err)
	}
	return result, nil
}

func (s *Store) snapshot(ctx context.Context) (map[int64]Policy, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	cached, gen := s.cache, s.gen
	s.mu.RUnlock()
	if cached != nil {
		return cached, nil
	}

	loaded := make(map[int64]Policy)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(groupPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			raw, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			var p Policy
			if err := json.Unmarshal(raw, &p); err != nil {
				log.Warn().Str("key", string(item.Key())).Err(err).Msg("store.Store.snapshot skipping corrupt record")
				continue
			}
			loaded[p.GroupID] = p
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: load: %v", ErrStore, err)
	}

	s.mu.Lock()
	if s.gen == gen {
		s.cache = loaded
	}
	s.mu.Unlock()
	return loaded, nil
}

func (s *Store) invalidate() {
	s.mu.Lock()
	s.cache = nil
	s.gen++
	s.mu.Unlock()
}

func readPolicy(txn *badger.Txn, key []byte) (Policy, bool, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Policy{}, false, nil
	}
	if err != nil {
		return Policy{}, false, err
	}
	raw, err := item.ValueCopy(nil)
	if err != nil {
		return Policy{}, false, err
	}
	var p Policy
	if err := json.Unmarshal(raw, &p); err != nil {
		return Policy{}, false, err
	}
	return p, true, nil
}

func groupKey(groupID int64) []byte {
	return []byte(groupPrefix + strconv.FormatInt(groupID, 10))
}
