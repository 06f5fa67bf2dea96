// Package db embeds the relational schema.
package db

import _ "embed"

// Schema contains the DDL statements for all checkout tables. Every
// statement is idempotent.
//
//go:embed migrations/001_schema.sql
var Schema string
