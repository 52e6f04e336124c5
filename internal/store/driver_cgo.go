//go:build cgo_sqlite

package store

// CGO-backed sqlite driver, opt-in via -tags cgo_sqlite for deployments
// that already pay the CGO cost and want mattn/go-sqlite3's maturity.
import _ "github.com/mattn/go-sqlite3"

const sqlDriverName = "sqlite3"
