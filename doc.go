/*
Package cache is an in-process asynchronous query cache.

Callers identify data by a key (a scalar or a sequence of scalars) and supply
a fetcher that produces it. The cache keeps one entry per key, runs at most
one fetch per key at a time, serves fresh data without refetching, keeps
showing stale data while it refreshes in the background, and collects entries
nobody observes once their cache time has passed.

	client := cache.NewClient(cache.Options{})
	defer client.Close()

	obs, err := client.Watch(ctx, "pokemon", fetchPokemon, cache.DefaultQueryConfig(), render)
	if err != nil {
		return err
	}
	defer obs.Close()

Dependent queries gate themselves with QueryConfig.Enabled and seed from
another entry with SeedFrom.
*/
package cache
