package stores

import (
	"context"
	"errors"
	"fmt"

	"github.com/poiesic/crossfeed/core"
)

// ErrorClass classifies adapter failures for the ledger's retry policy.
type ErrorClass string

const (
	// ClassTransient failures are retryable: timeouts, connection
	// refusals, temporary unavailability.
	ClassTransient ErrorClass = "transient"

	// ClassPermanent failures will never succeed on retry: malformed
	// payloads, schema violations, dimension mismatches.
	ClassPermanent ErrorClass = "permanent"

	// ClassNotReady means the store exists but has not been provisioned
	// yet. The worker provisions and retries once before treating it as
	// transient.
	ClassNotReady ErrorClass = "not_ready"
)

// AdapterError wraps a store failure with its retry classification.
// Adapters must classify every error they return; errors without a
// classification are treated as transient by the worker pool.
type AdapterError struct {
	Class ErrorClass
	Store core.TargetStore
	Err   error
}

func (e *AdapterError) Error() string {
	return fmt.Sprintf("%s store: %s: %v", e.Store, e.Class, e.Err)
}

func (e *AdapterError) Unwrap() error {
	return e.Err
}

// Transient wraps err as a retryable failure of the given store.
func Transient(store core.TargetStore, err error) error {
	return &AdapterError{Class: ClassTransient, Store: store, Err: err}
}

// Permanent wraps err as a non-retryable failure of the given store.
func Permanent(store core.TargetStore, err error) error {
	return &AdapterError{Class: ClassPermanent, Store: store, Err: err}
}

// NotReady wraps err as a provisioning failure of the given store.
func NotReady(store core.TargetStore, err error) error {
	return &AdapterError{Class: ClassNotReady, Store: store, Err: err}
}

// ClassOf extracts the error class from err. Unclassified errors are
// assumed transient so an unknown failure mode never burns a task.
func ClassOf(err error) ErrorClass {
	var adapterErr *AdapterError
	if errors.As(err, &adapterErr) {
		return adapterErr.Class
	}
	return ClassTransient
}

// ErrNotProvisioned is the cause carried by NotReady errors from stores
// that require explicit provisioning before accepting writes.
var ErrNotProvisioned = errors.New("store not provisioned")

// Adapter is the uniform write-side contract every downstream store
// implements. The worker pool drives adapters exclusively through this
// interface.
//
// Upsert must be idempotent: applying the same payload twice leaves the
// store in the same state as applying it once. All errors returned from
// Upsert must be classified via Transient, Permanent, or NotReady.
type Adapter interface {
	// Target identifies which ledger lane this adapter serves.
	Target() core.TargetStore

	// Provision creates whatever schema, index, or collection the store
	// needs. It must be safe to call repeatedly.
	Provision(ctx context.Context) error

	// Upsert applies one task payload to the store.
	Upsert(ctx context.Context, recordID core.ID, payload []byte) error

	// HealthCheck reports whether the store is reachable and provisioned.
	HealthCheck(ctx context.Context) error

	// Close releases resources held by the adapter.
	Close() error
}
