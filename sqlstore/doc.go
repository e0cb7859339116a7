// Package sqlstore implements the durable repository ports on SQLite using
// the pure Go modernc.org/sqlite driver.
//
// A single *sql.DB is shared by all repositories. Writes are serialized
// through one connection and transactions take the write lock immediately,
// so concurrent engine calls never see SQLITE_BUSY on commit. The
// transaction runner threads *sql.Tx through the context; repositories pick
// it up transparently and fall back to the bare connection outside a
// transaction.
package sqlstore
