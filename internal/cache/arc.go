package cache

import (
	lru "github.com/hashicorp/golang-lru"
)

// LRU is an adaptive replacement cache with a fixed entry budget.
type LRU struct {
	cache *lru.ARCCache
}

var _ Cache = (*LRU)(nil)

// NewLRU creates a cache holding at most size entries.
func NewLRU(size int) (*LRU, error) {
	c, err := lru.NewARC(size)
	if err != nil {
		return nil, err
	}
	return &LRU{cache: c}, nil
}

func (l *LRU) Get(key string) (any, bool) {
	return l.cache.Get(key)
}

func (l *LRU) Add(key string, value any) {
	l.cache.Add(key, value)
}

func (l *LRU) Delete(key string) {
	l.cache.Remove(key)
}

func (l *LRU) Keys() []string {
	raw := l.cache.Keys()
	keys := make([]string, 0, len(raw))
	for _, k := range raw {
		if s, ok := k.(string); ok {
			keys = append(keys, s)
		}
	}
	return keys
}

func (l *LRU) Len() int {
	return l.cache.Len()
}
