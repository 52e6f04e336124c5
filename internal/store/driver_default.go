//go:build !cgo_sqlite

package store

// Pure Go sqlite driver, the default so builds need no CGO toolchain.
// Build with -tags cgo_sqlite to switch to mattn/go-sqlite3 instead (see
// driver_cgo.go).
import _ "modernc.org/sqlite"

const sqlDriverName = "sqlite"
