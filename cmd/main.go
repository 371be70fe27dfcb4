package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"

	cache "github.com/krisalay/query-cache"
	"github.com/krisalay/query-cache/eviction"
	"github.com/krisalay/query-cache/key"
	"github.com/krisalay/query-cache/refresh"
	"github.com/krisalay/query-cache/types"
)

// ================= UPSTREAM =================

// slowUpstream answers every key with a versioned value after a delay.
type slowUpstream struct {
	delay   time.Duration
	calls   atomic.Int64
	failing atomic.Bool
}

func (u *slowUpstream) Fetch(ctx context.Context, k key.Key) (any, error) {
	n := u.calls.Add(1)
	fmt.Printf("UPSTREAM → fetch %s (#%d)\n", k, n)

	select {
	case <-time.After(u.delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if u.failing.Load() {
		return nil, errors.New("Test error")
	}
	return fmt.Sprintf("%s@v%d", k.Part(0).String(), n), nil
}

// ================= METRICS =================

type Metrics struct {
	mu                              sync.Mutex
	hits, misses, dedups, refetches int
	fetchOK, fetchFailed, evictions int
}

func (m *Metrics) Hit()            { m.mu.Lock(); m.hits++; m.mu.Unlock() }
func (m *Metrics) Miss()           { m.mu.Lock(); m.misses++; m.mu.Unlock() }
func (m *Metrics) Dedup()          { m.mu.Lock(); m.dedups++; m.mu.Unlock() }
func (m *Metrics) Refetch()        { m.mu.Lock(); m.refetches++; m.mu.Unlock() }
func (m *Metrics) FetchSucceeded() { m.mu.Lock(); m.fetchOK++; m.mu.Unlock() }
func (m *Metrics) FetchFailed()    { m.mu.Lock(); m.fetchFailed++; m.mu.Unlock() }
func (m *Metrics) Eviction()       { m.mu.Lock(); m.evictions++; m.mu.Unlock() }

func (m *Metrics) Print() {
	m.mu.Lock()
	defer m.mu.Unlock()
	fmt.Println("\n==================== METRICS ====================")
	fmt.Printf("HITS         : %d\n", m.hits)
	fmt.Printf("MISSES       : %d\n", m.misses)
	fmt.Printf("DEDUPS       : %d\n", m.dedups)
	fmt.Printf("REFETCHES    : %d\n", m.refetches)
	fmt.Printf("FETCH OK     : %d\n", m.fetchOK)
	fmt.Printf("FETCH FAILED : %d\n", m.fetchFailed)
	fmt.Printf("EVICTIONS    : %d\n", m.evictions)
}

func show(label string, e types.Entry) {
	updated := "never"
	if e.HasData() {
		updated = humanize.Time(e.UpdatedAt)
	}
	errMsg := ""
	if e.Error != nil {
		errMsg = " error=" + e.Error.Error()
	}
	fmt.Printf("%-8s → %s status=%s fetching=%t data=%v updated=%s%s\n",
		label, e.Key, e.Status, e.IsFetching, e.Data, updated, errMsg)
}

// ================= MAIN =================

func main() {
	ctx := context.Background()

	fmt.Println("\n==================== SYSTEM BOOT ====================")
	fmt.Println("EVICTION POLICY : LRU")
	fmt.Println("SHARDS          : 4")
	fmt.Println("STALE TIME      : 1s")
	fmt.Println("CACHE TIME      : 2s")
	fmt.Println("CAPACITY        : 20 entries")

	upstream := &slowUpstream{delay: 200 * time.Millisecond}
	metrics := &Metrics{}
	focus := refresh.NewBroadcaster()

	client := cache.NewClient(cache.Options{
		Shards:     4,
		MaxEntries: 20,
		Eviction:   eviction.LRU,
		Metrics:    metrics,
		Focus:      focus,
	})

	cfg := cache.QueryConfig{StaleTime: time.Second, CacheTime: 2 * time.Second, RefetchOnRefocus: true}

	// ====================================================
	fmt.Println("\n==================== 1) FIRST LOAD ====================")
	snap, _ := client.EnsureFresh(ctx, "pokemon", upstream.Fetch, cfg)
	show("ENSURE", snap)
	snap, _ = client.Fetch(ctx, "pokemon", upstream.Fetch, cfg)
	show("SETTLED", snap)

	// ====================================================
	fmt.Println("\n==================== 2) FRESH HIT ====================")
	snap, _ = client.EnsureFresh(ctx, "pokemon", upstream.Fetch, cfg)
	show("ENSURE", snap)

	// ====================================================
	fmt.Println("\n==================== 3) STALE WHILE REVALIDATE ====================")
	time.Sleep(1200 * time.Millisecond)
	snap, _ = client.EnsureFresh(ctx, "pokemon", upstream.Fetch, cfg)
	show("ENSURE", snap)
	snap, _ = client.Fetch(ctx, "pokemon", upstream.Fetch, cfg)
	show("SETTLED", snap)

	// ====================================================
	fmt.Println("\n==================== 4) DEDUPLICATION ====================")
	wg := sync.WaitGroup{}
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			s, _ := client.Fetch(ctx, []any{"posts", 1}, upstream.Fetch, cfg)
			fmt.Printf("GOROUTINE-%d → %v\n", id, s.Data)
		}(i)
	}
	wg.Wait()

	// ====================================================
	fmt.Println("\n==================== 5) OBSERVERS AND REFOCUS ====================")
	obs, _ := client.Watch(ctx, "posts", upstream.Fetch, cfg, func(e types.Entry) { show("LISTENER", e) })
	client.Fetch(ctx, "posts", upstream.Fetch, cfg)
	focus.Notify()
	client.Fetch(ctx, "posts", upstream.Fetch, cfg)

	// ====================================================
	fmt.Println("\n==================== 6) INVALIDATION ====================")
	client.InvalidatePrefix(ctx, "posts")
	client.Fetch(ctx, "posts", upstream.Fetch, cfg)
	snap, _ = client.Get([]any{"posts", 1})
	show("GET", snap)

	// ====================================================
	fmt.Println("\n==================== 7) ERRORS ====================")
	upstream.failing.Store(true)
	snap, _ = client.Refetch(ctx, "pokemon", upstream.Fetch, cfg)
	show("REFETCH", snap)
	upstream.failing.Store(false)

	// ====================================================
	fmt.Println("\n==================== 8) GARBAGE COLLECTION ====================")
	obs.Close()
	fmt.Printf("CACHE    → %d entries before cache time\n", client.Len())
	time.Sleep(2500 * time.Millisecond)
	fmt.Printf("CACHE    → %d entries after cache time\n", client.Len())

	// ====================================================
	metrics.Print()

	// ====================================================
	fmt.Println("\n==================== SHUTDOWN ====================")
	client.Close()
	fmt.Println("SYSTEM → client closed cleanly")
}
