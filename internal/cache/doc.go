// Package cache implements the Result Cache: a content-addressed store that
// maps (image content hash, template id, parameters) to a previously
// computed transform result.
//
// Payloads are kept as blob files next to a JSON index that is rewritten on
// every mutation. On load, index entries without a payload are dropped.
// Capacity is bounded by entry count and total bytes; when either limit is
// exceeded the least recently accessed fifth of the entries is evicted, in
// batches, until both hold. A periodic sweep expires entries that have not
// been accessed within the retention window.
package cache
