// Package cloud declares the compute-side collaborator contracts the
// handler depends on: tag access, instance inventory, and lifecycle action
// completion.
package cloud

import (
	"context"
	"errors"

	"github.com/yuriy-kovalchuk/yk-asg-dns/internal/event"
)

// Sentinel errors returned by implementations.
var (
	ErrInstanceNotFound = errors.New("instance not found")
	ErrNoAddress        = errors.New("instance has no address of requested kind")
	// ErrTokenExpired marks a completion call whose action token has already
	// been consumed or has expired. The handler treats it as a no-op.
	ErrTokenExpired = errors.New("lifecycle action token expired or already completed")
)

// TagStore reads fleet tags and writes instance tags.
type TagStore interface {
	// GetTag returns the tag value for the resource, or ok=false when the
	// tag is not set.
	GetTag(ctx context.Context, resourceID, key string) (value string, ok bool, err error)
	SetTag(ctx context.Context, resourceID, key, value string) error
}

// Inventory resolves instance network addresses.
type Inventory interface {
	// Address returns the instance's IPv4 address, public or private.
	Address(ctx context.Context, instanceID string, public bool) (string, error)
}

// LifecycleCompleter reports the verdict for a pending lifecycle action.
type LifecycleCompleter interface {
	Complete(ctx context.Context, ev event.LifecycleEvent, verdict event.Verdict) error
}
