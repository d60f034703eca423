// SPDX-License-Identifier: AGPL-3.0-only
package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pollSource struct {
	mu    sync.Mutex
	value []int
	err   error
	hits  int
}

func (p *pollSource) fetch(ctx context.Context) ([]int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hits++
	if p.err != nil {
		return nil, p.err
	}
	out := make([]int, len(p.value))
	copy(out, p.value)
	return out, nil
}

func (p *pollSource) set(v []int, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.value, p.err = v, err
}

func collectDeliveries(buf *[][]int, mu *sync.Mutex) func([]int) {
	return func(v []int) {
		mu.Lock()
		defer mu.Unlock()
		*buf = append(*buf, v)
	}
}

func waitDeliveries(t *testing.T, mu *sync.Mutex, buf *[][]int, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		got := len(*buf)
		mu.Unlock()
		if got >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected %d deliveries", n)
}

func TestPoll_DeliversImmediatelyThenOnChangeOnly(t *testing.T) {
	src := &pollSource{value: []int{1, 2}}
	var (
		mu  sync.Mutex
		got [][]int
	)

	unsub := Poll(20*time.Millisecond, src.fetch, EqualIDSets[int], collectDeliveries(&got, &mu))
	defer unsub()

	waitDeliveries(t, &mu, &got, 1)

	// Several ticks with an unchanged value produce no new deliveries.
	time.Sleep(80 * time.Millisecond)
	mu.Lock()
	require.Len(t, got, 1)
	assert.Equal(t, []int{1, 2}, got[0])
	mu.Unlock()

	src.set([]int{1, 2, 3}, nil)
	waitDeliveries(t, &mu, &got, 2)
	mu.Lock()
	assert.Equal(t, []int{1, 2, 3}, got[1])
	mu.Unlock()
}

func TestPoll_FetchErrorKeepsPreviousValue(t *testing.T) {
	src := &pollSource{value: []int{7}}
	var (
		mu  sync.Mutex
		got [][]int
	)

	unsub := Poll(20*time.Millisecond, src.fetch, EqualIDSets[int], collectDeliveries(&got, &mu))
	defer unsub()
	waitDeliveries(t, &mu, &got, 1)

	src.set(nil, errors.New("db down"))
	time.Sleep(80 * time.Millisecond)
	mu.Lock()
	assert.Len(t, got, 1)
	mu.Unlock()

	// Recovery with the same value stays silent, a new value delivers.
	src.set([]int{7, 8}, nil)
	waitDeliveries(t, &mu, &got, 2)
}

func TestPoll_UnsubscribeStopsDeliveries(t *testing.T) {
	src := &pollSource{value: []int{1}}
	var (
		mu  sync.Mutex
		got [][]int
	)

	unsub := Poll(20*time.Millisecond, src.fetch, EqualIDSets[int], collectDeliveries(&got, &mu))
	waitDeliveries(t, &mu, &got, 1)

	unsub()
	// Calling again must be harmless.
	unsub()

	src.set([]int{1, 2}, nil)
	time.Sleep(80 * time.Millisecond)
	mu.Lock()
	assert.Len(t, got, 1)
	mu.Unlock()
}

func TestEqualIDSets(t *testing.T) {
	assert.True(t, EqualIDSets([]int{1, 2}, []int{1, 2}))
	assert.True(t, EqualIDSets([]int(nil), []int{}))
	assert.False(t, EqualIDSets([]int{1, 2}, []int{2, 1}))
	assert.False(t, EqualIDSets([]int{1}, []int{1, 2}))
}
