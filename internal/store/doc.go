// Package store defines the record storage abstraction shared by all
// backends: the versioned Record unit, the Store interface, and the error
// taxonomy callers branch on.
//
// Backends are dumb. Each one owns only its own bytes, knows nothing about
// other backends, and offers single-key atomicity with no cross-key
// transactions. Put always overwrites; callers that need compare-and-swap
// semantics against concurrent writers must go through the sync
// coordinator, never call Put directly.
//
// Three production backends implement Store:
//
//   - filestore: one human-editable JSON file per key (source of record)
//   - kvstore: embedded SQLite with WAL mode (low-latency cache)
//   - crmstore: HTTP adapter for a CRM-style record service
//
// The in-memory store in this package backs tests and local scratch use.
package store
