package protocol

import (
	"github.com/coocood/freecache"
)

var (
	defaultValue    = []byte{0x1}
	entryExpiration = 500
)

// Purgatory holds the envelopes a node already received, so a
// duplicated delivery from the transport is not processed twice.
type Purgatory interface {
	// Set will add a new entry to the purgatory.
	// Returns true if the Value did not exists previously
	// and false otherwise.
	Set(id string) bool

	// Contains verify if the given Value exists in purgatory.
	Contains(id string) bool
}

// TtlPurgatory is structure that implements the Purgatory interface.
// On this implementation, all added entries will have a TTL then
// they will be removed from the purgatory.
type TtlPurgatory struct {
	// delegate structure that will handle all entries.
	delegate *freecache.Cache
}

func NewPurgatory() Purgatory {
	return NewPurgatorySized(1024 * 1024)
}

// NewPurgatorySized creates a purgatory using the given amount of bytes.
func NewPurgatorySized(size int) Purgatory {
	return &TtlPurgatory{
		delegate: freecache.NewCache(size),
	}
}

// Set add a new Value to the cache.
// If a previous element already exists, nothing changes.
func (t *TtlPurgatory) Set(id string) bool {
	if t.Contains(id) {
		return false
	}
	return t.delegate.Set([]byte(id), defaultValue, entryExpiration) == nil
}

// Contains verify if the given entry already exists on purgatory.
func (t *TtlPurgatory) Contains(id string) bool {
	v, err := t.delegate.Get([]byte(id))
	return v != nil && err == nil
}
