// Package storage is the encrypted registry: a single SQLite file whose rows
// are sealed under a passphrase-unlocked key ring, a forward-only migration
// engine, typed repositories for every entity kind, and the project resource
// link graph.
package storage
