// Package business exposes read-only lookups into the verified-business
// directory. Registration and review live elsewhere; the trust cache only
// needs to resolve a backend-returned business id into display fields.
package business

import (
	"context"
	"sync"
	"time"

	"confirmit/pkg/sentinel"
)

// Business is the subset of a directory entry that check results surface.
type Business struct {
	ID         string     `json:"business_id"`
	Name       string     `json:"name"`
	Verified   bool       `json:"verified"`
	TrustScore int        `json:"trust_score"`
	VerifiedAt *time.Time `json:"verification_date,omitempty"`
}

// Directory resolves verified-business references.
type Directory interface {
	Get(ctx context.Context, id string) (*Business, error)
}

// MemoryDirectory is a mutex-guarded in-memory directory for dev and tests.
type MemoryDirectory struct {
	mu         sync.RWMutex
	businesses map[string]*Business
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{businesses: make(map[string]*Business)}
}

// Put registers or replaces an entry.
func (d *MemoryDirectory) Put(b *Business) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.businesses[b.ID] = b
}

func (d *MemoryDirectory) Get(_ context.Context, id string) (*Business, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	b, ok := d.businesses[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	copied := *b
	return &copied, nil
}
