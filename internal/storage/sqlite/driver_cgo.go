//go:build cgo_sqlite

package sqlite

import _ "github.com/mattn/go-sqlite3"

// driverName selects the cgo-based mattn/go-sqlite3 driver for hosts
// that build with the cgo_sqlite tag and have a C toolchain available.
// Functionally equivalent to the pure-Go driver; kept as an alternate
// build for platforms where cgo's sqlite performs better.
const driverName = "sqlite3"
