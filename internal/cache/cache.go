// Package cache defines the read-through cache used in front of game
// storage.
package cache

// Cache is a bounded key/value store. Implementations are safe for
// concurrent use.
type Cache interface {
	Get(key string) (any, bool)
	Add(key string, value any)
	Delete(key string)
	Keys() []string
	Len() int
}
