// Package db opens and pools the SQL backends behind Scribe's store.
package db

import "github.com/jmoiron/sqlx"

// Pool pairs a write handle with a read handle over the same database.
//
// The embedded backend runs SQLite in WAL mode: a single writer connection
// keeps log appends serialized while the read pool serves list and search
// queries from WAL snapshots. The server backend installs the same *sqlx.DB
// in both roles because pgx multiplexes connections internally.
type Pool struct {
	writer *sqlx.DB
	reader *sqlx.DB
}

// NewPool wires the two handles together. Passing the same handle twice is
// allowed and makes Close idempotent over it.
func NewPool(writer, reader *sqlx.DB) *Pool {
	return &Pool{writer: writer, reader: reader}
}

// Writer is the handle for inserts, updates, and transactions.
func (p *Pool) Writer() *sqlx.DB { return p.writer }

// Reader is the handle for queries. Under SQLite it holds read-only
// connections that never contend with the writer.
func (p *Pool) Reader() *sqlx.DB { return p.reader }

// Close releases both handles, closing a shared handle only once.
func (p *Pool) Close() error {
	err := p.writer.Close()
	if p.reader == p.writer {
		return err
	}
	if rerr := p.reader.Close(); err == nil {
		err = rerr
	}
	return err
}
