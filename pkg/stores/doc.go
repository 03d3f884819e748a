// Package stores persists schemas and datasets of root facts in SQLite.
// Migrations are embedded and applied with golang-migrate; every mutation
// is recorded in an audit table.
package stores
