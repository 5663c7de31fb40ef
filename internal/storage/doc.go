// Package storage is the durable document store used by the bot.
//
// Every piece of persistent state is a named JSON document (group send times,
// modes, languages, skip set, fallback pools, rotation cursor, festivals).
// Load leaves the caller's default in place when a document does not exist;
// Save overwrites the whole document.
//
// Drivers:
//   - "file":     one <name>.json per document in a directory (compatible with
//     an existing deployment's JSON files)
//   - "sqlite":   documents table in a SQLite file
//   - "bolt":     one bbolt bucket, key = document name
//   - "postgres": documents table (jsonb) via pgxpool
//   - "memory":   process-local, for tests and dry runs
package storage
