// Package cache provides a file-based cache for per-unit matching results.
//
// Keys are SHA-256 hashes of the rule set digest and the msgpack encoding of
// a source unit, so any change to either misses. Each entry is a msgpack
// Payload carrying a schema version and a creation time; entries from another
// schema version or older than the TTL (in seconds) are treated as misses.
// Writes go to a temp file that is renamed into place.
//
// The default cache directory is $XDG_CACHE_HOME/tenet (or the OS-appropriate
// equivalent).
package cache
