// Package storage persists users, reminder settings, tasks, plans and plan
// steps. Backends: an in-memory map, a JSON snapshot file, SQLite
// (modernc.org/sqlite, no cgo) and PostgreSQL (pgx).
package storage
