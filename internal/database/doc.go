// Package database provides the TimescaleDB connection pool used for quote history.
//
// The pool is optional: the service runs without it and only the quote
// writer depends on it.
package database
