// SPDX-License-Identifier: AGPL-3.0-only
package store

import (
	"context"
	"log"
	"sync"
	"time"
)

// Poll implements the Subscribe contract over a store that cannot push.
// It fetches immediately, then on every tick, and invokes cb only when
// the fetched value differs from the last delivered one. Fetch errors
// keep the previous value and are logged; the next tick retries.
//
// The returned Unsubscribe stops the ticker and is safe to call twice.
func Poll[T any](interval time.Duration, fetch func(ctx context.Context) (T, error), equal func(a, b T) bool, cb func(T)) Unsubscribe {
	done := make(chan struct{})

	go func() {
		var (
			last      T
			delivered bool
		)

		run := func() {
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			defer cancel()

			next, err := fetch(ctx)
			if err != nil {
				log.Printf("Poll: fetch failed, keeping previous value: %v", err)
				return
			}
			if delivered && equal(last, next) {
				return
			}
			last = next
			delivered = true
			cb(next)
		}

		run()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				run()
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() { close(done) })
	}
}

// EqualIDSets reports whether two id slices carry the same members in the
// same order. Pollers fetch ids in a stable order, so positional compare
// is enough.
func EqualIDSets[T comparable](a, b []T) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
