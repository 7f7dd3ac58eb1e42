// Package cache provides a bounded LRU cache indexed by a hashtable.Table,
// with duplicate-suppressed loading.
//
//	c, err := cache.New[string, *User](1024)
//	u, _, err := c.GetOrLoad(ctx, id, fetchUser)
//
// In-flight loads are tracked in a pb.MapOf, whose lookups read buckets with
// plain loads on TSO platforms. The race detector reports those reads, so
// tests that overlap loads of one key are skipped in race builds.
package cache
