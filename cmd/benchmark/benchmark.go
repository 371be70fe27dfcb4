package main

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"

	cache "github.com/krisalay/query-cache"
	"github.com/krisalay/query-cache/eviction"
	"github.com/krisalay/query-cache/key"
)

// ================= UPSTREAM =================

// countingUpstream sleeps like a remote call and counts how often it is hit.
type countingUpstream struct {
	latency time.Duration
	calls   atomic.Int64
}

func (u *countingUpstream) Fetch(ctx context.Context, k key.Key) (any, error) {
	u.calls.Add(1)
	select {
	case <-time.After(u.latency):
		return k.String(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ================= BENCHMARK =================

func main() {
	ctx := context.Background()

	const (
		shards      = 8
		capacity    = 200000
		preloadKeys = 100000
		hotKeys     = 64
		goroutines  = 200
		opsPerG     = 5000
		latency     = 50 * time.Millisecond
	)

	fmt.Println("\n================ QUERY CACHE LOAD BENCHMARK =================")
	fmt.Println("CONFIG")
	fmt.Println("---------------------------------")
	fmt.Println("Shards          :", shards)
	fmt.Println("Capacity        :", capacity)
	fmt.Println("Preload Keys    :", preloadKeys)
	fmt.Println("Cold Keys       :", hotKeys)
	fmt.Println("Goroutines      :", goroutines)
	fmt.Println("Ops/Goroutine   :", opsPerG)
	fmt.Println("Upstream Latency:", latency)
	fmt.Println("---------------------------------")

	upstream := &countingUpstream{latency: latency}

	c := cache.NewClient(cache.Options{
		Shards:     shards,
		MaxEntries: capacity,
		Eviction:   eviction.LRU,
	})
	defer c.Close()

	cfg := cache.QueryConfig{StaleTime: time.Hour, CacheTime: time.Hour}

	// ---------------- Preload Cache ----------------
	fmt.Println("Preloading cache...")
	for i := 0; i < preloadKeys; i++ {
		c.SetQueryData([]any{"key", i}, func(any) any { return i })
	}
	fmt.Println("Preload complete.")

	// ---------------- Cold Stampede ----------------
	// Every goroutine asks for the same unfetched keys at once.
	fmt.Println("Running cold stampede...")
	start := time.Now()
	wg := sync.WaitGroup{}
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < hotKeys; j++ {
				c.Fetch(ctx, []any{"cold", j}, upstream.Fetch, cfg)
			}
		}()
	}
	wg.Wait()
	stampede := time.Since(start)

	// ---------------- Fresh Reads ----------------
	fmt.Println("Running concurrency benchmark...")
	start = time.Now()
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func(id int) {
			defer wg.Done()
			for j := 0; j < opsPerG; j++ {
				c.EnsureFresh(ctx, []any{"key", (id*opsPerG + j) % preloadKeys}, upstream.Fetch, cfg)
			}
		}(i)
	}
	wg.Wait()
	duration := time.Since(start)
	totalOps := goroutines * opsPerG

	fmt.Println("\n================ RESULTS =================")
	fmt.Printf("Stampede Requests : %s\n", humanize.Comma(int64(goroutines*hotKeys)))
	fmt.Printf("Upstream Calls    : %s (keys: %d)\n", humanize.Comma(upstream.calls.Load()), hotKeys)
	fmt.Printf("Stampede Time     : %v\n", stampede)
	fmt.Printf("Total Operations  : %s\n", humanize.Comma(int64(totalOps)))
	fmt.Printf("Total Time        : %v\n", duration)
	fmt.Printf("Throughput        : %s ops/sec\n", humanize.CommafWithDigits(float64(totalOps)/duration.Seconds(), 2))
	fmt.Printf("Entries           : %s\n", humanize.Comma(int64(c.Len())))
	fmt.Println("=========================================")
}
