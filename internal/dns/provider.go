package dns

import (
	"context"
	"errors"
)

// Record represents an address record to be managed within a hosted zone.
type Record struct {
	FQDN  string // e.g. "web-i-abc.example.com"
	Type  string // record type, "A"
	Value string // IPv4 address
	TTL   int64  // seconds, 0 = provider default
}

// Sentinel errors returned by Manager implementations.
var (
	ErrNotFound     = errors.New("record not found")
	ErrZoneNotFound = errors.New("hosted zone not found")
	ErrThrottled    = errors.New("provider throttled")
)

// Manager is the interface DNS backends must implement. All operations are
// idempotent: Upsert tolerates an identical pre-existing record and Delete
// of an absent record is not an error.
type Manager interface {
	Upsert(ctx context.Context, zoneID string, record Record) error
	// ResolveExisting returns the current value of the named record, or
	// ErrNotFound if no such record exists in the zone.
	ResolveExisting(ctx context.Context, zoneID, fqdn string) (string, error)
	Delete(ctx context.Context, zoneID, fqdn string) error
}
