// Package sqlstore provides the durable job store on a SQL database using
// sqlx. SQLite (mattn/go-sqlite3) is the default for a single local
// process; PostgreSQL is available through the pgx stdlib driver. The schema
// is managed by goose migrations embedded in the binary.
package sqlstore
