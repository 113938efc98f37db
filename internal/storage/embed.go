package storage

import _ "embed"

// Schema is the DDL a fresh PostgreSQL deployment applies before the
// adapter's ValidateSchema check will pass.
//
//go:embed schema.sql
var Schema string
