// Package fragmentstore implements the fragment store against
// pluggable SQL drivers, mirroring store/store.go's
// Store-wraps-Driver split: Store holds the retry policy and driver
// selection; each driver package (sqlite, postgres) implements the
// same Driver interface.
package fragmentstore

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/hrygo/ragd/internal/errs"
	"github.com/hrygo/ragd/internal/fragment"
)

// retryBackoff is the fixed backoff between a transient failure and its
// single retry.
const retryBackoff = 200 * time.Millisecond

// Driver is implemented once per supported database engine.
type Driver interface {
	InitSchema(ctx context.Context) error

	BulkInsert(ctx context.Context, fragments []*fragment.Fragment) error

	LoadByCollection(ctx context.Context, collection string) ([]*fragment.Fragment, error)
	LoadPaged(ctx context.Context, collection string, page, size int) ([]*fragment.Fragment, error)

	Count(ctx context.Context, collection string) (int, error)
	HasAnyEmbeddings(ctx context.Context, collection string) (bool, error)
	CollectionExists(ctx context.Context, collection string) (bool, error)
	ListCollections(ctx context.Context) ([]string, error)

	DeleteCollection(ctx context.Context, collection string) error
	Delete(ctx context.Context, id string) error
	UpdateContent(ctx context.Context, id, newContent string) error

	Close() error
}

// Store is the fragment store façade: it owns the retry-once-on-transient
// policy so that every driver implementation is kept free of retry logic.
type Store struct {
	driver Driver
}

// New wraps a Driver in the shared retry policy.
func New(driver Driver) *Store {
	return &Store{driver: driver}
}

// Driver exposes the underlying driver, e.g. for migration tooling.
func (s *Store) Driver() Driver { return s.driver }

func (s *Store) Close() error { return s.driver.Close() }

func (s *Store) InitSchema(ctx context.Context) error {
	return withRetry(ctx, func() error { return s.driver.InitSchema(ctx) })
}

func (s *Store) BulkInsert(ctx context.Context, fragments []*fragment.Fragment) error {
	return withRetry(ctx, func() error { return s.driver.BulkInsert(ctx, fragments) })
}

func (s *Store) LoadByCollection(ctx context.Context, collection string) ([]*fragment.Fragment, error) {
	var out []*fragment.Fragment
	err := withRetry(ctx, func() error {
		var innerErr error
		out, innerErr = s.driver.LoadByCollection(ctx, collection)
		return innerErr
	})
	return out, err
}

func (s *Store) LoadPaged(ctx context.Context, collection string, page, size int) ([]*fragment.Fragment, error) {
	var out []*fragment.Fragment
	err := withRetry(ctx, func() error {
		var innerErr error
		out, innerErr = s.driver.LoadPaged(ctx, collection, page, size)
		return innerErr
	})
	return out, err
}

func (s *Store) Count(ctx context.Context, collection string) (int, error) {
	var n int
	err := withRetry(ctx, func() error {
		var innerErr error
		n, innerErr = s.driver.Count(ctx, collection)
		return innerErr
	})
	return n, err
}

func (s *Store) HasAnyEmbeddings(ctx context.Context, collection string) (bool, error) {
	var ok bool
	err := withRetry(ctx, func() error {
		var innerErr error
		ok, innerErr = s.driver.HasAnyEmbeddings(ctx, collection)
		return innerErr
	})
	return ok, err
}

func (s *Store) CollectionExists(ctx context.Context, collection string) (bool, error) {
	var ok bool
	err := withRetry(ctx, func() error {
		var innerErr error
		ok, innerErr = s.driver.CollectionExists(ctx, collection)
		return innerErr
	})
	return ok, err
}

func (s *Store) ListCollections(ctx context.Context) ([]string, error) {
	var out []string
	err := withRetry(ctx, func() error {
		var innerErr error
		out, innerErr = s.driver.ListCollections(ctx)
		return innerErr
	})
	return out, err
}

func (s *Store) DeleteCollection(ctx context.Context, collection string) error {
	return withRetry(ctx, func() error { return s.driver.DeleteCollection(ctx, collection) })
}

func (s *Store) Delete(ctx context.Context, id string) error {
	return withRetry(ctx, func() error { return s.driver.Delete(ctx, id) })
}

func (s *Store) UpdateContent(ctx context.Context, id, newContent string) error {
	return withRetry(ctx, func() error { return s.driver.UpdateContent(ctx, id, newContent) })
}

// withRetry runs op once, and a second time after a fixed backoff if
// the first attempt failed with a transient StoreError. Permanent
// errors and non-StoreError errors surface immediately.
func withRetry(ctx context.Context, op func() error) error {
	err := op()
	if err == nil {
		return nil
	}
	if !errs.IsTransient(err) {
		return err
	}

	select {
	case <-time.After(retryBackoff):
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "context cancelled during store retry backoff")
	}

	return op()
}
