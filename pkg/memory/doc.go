/*
Package memory implements the collective knowledge layer of the hive.

Memory maps (namespace, key) to an opaque value with an optional TTL,
backed by the durable store and fronted by a bounded LRU cache (default
1000 entries). Each namespace carries a retention policy fixed at creation
time: persistent, time-based (entries older than the namespace TTL are
dropped) or size-based (the namespace refuses writes past max_entries
until the caller evicts).

Retrieval of an expired entry returns nothing and deletes the entry
lazily; three background sweeps bound staleness: expired entries every
minute, retention enforcement and cold-entry compression every hour.
Compression targets entries older than seven days, larger than 10 kB and
accessed fewer than five times; gzip-packed values carry a compression tag
and original length, and Retrieve decompresses transparently.

Backup and Restore serialize every namespace descriptor and entry as one
JSON document, preserving keys, namespaces, values and TTLs exactly.
*/
package memory
