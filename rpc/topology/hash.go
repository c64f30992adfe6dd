package topology

import (
	"crypto/sha256"
	"encoding/binary"

	lru "github.com/hashicorp/golang-lru"
)

// KeyHashes maps keys to 64 bit hashes. Hashes are cached in an LRU since sha-256
// is slow compared to the rest of a request.
type KeyHashes struct {
	cache *lru.Cache
}

// NewKeyHashes creates a hasher caching up to size hashes, size 0 disables the cache
func NewKeyHashes(size int) (*KeyHashes, error) {
	var cache *lru.Cache
	if size > 0 {
		var err error
		cache, err = lru.New(size)
		if err != nil {
			return nil, err
		}
	}
	return &KeyHashes{cache: cache}, nil
}

// Hash returns the first 64 bits of the sha-256 of key
func (k *KeyHashes) Hash(key []byte) uint64 {
	if k.cache != nil {
		if h, ok := k.cache.Get(string(key)); ok {
			return h.(uint64)
		}
	}
	sum := sha256.Sum256(key)
	h := binary.BigEndian.Uint64(sum[:8])
	if k.cache != nil {
		k.cache.Add(string(key), h)
	}
	return h
}

// Len returns the number of cached hashes
func (k *KeyHashes) Len() int {
	if k.cache == nil {
		return 0
	}
	return k.cache.Len()
}
