// Package database opens the PostgreSQL pool used by the bridge journal.
//
// The journal is optional. When enabled, every bid sent, price matched and
// session closed is appended to a single table for later replay and audit.
package database
