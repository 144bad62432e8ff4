// Package postgres provides the PostgreSQL-backed run registry. It is
// the durable alternative to the in-memory registry and enforces the
// same forward-only transition rules, using status-guarded updates so
// concurrent transitions on the same run serialize at the database.
package postgres
