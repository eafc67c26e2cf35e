// Package cache stores downloaded bundle payloads in a badger database.
//
// Entries are keyed by bundle name and content hash
// ("bundle/<name>/<hash>"), so a manifest that publishes a new hash misses
// the cache and the old entry can be pruned:
//
//	store, err := cache.Open(cache.OpenOptions{Path: "~/.cache/bundle-fetch"})
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	data, ok, err := store.Get("characters", hash)
//
// Only payloads are cached. The scheduler's queue is never persisted.
package cache
