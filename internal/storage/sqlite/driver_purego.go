//go:build !cgo_sqlite

package sqlite

import _ "modernc.org/sqlite"

// driverName is the database/sql driver registered for this build. The
// pure-Go modernc.org/sqlite driver is the default: no cgo toolchain
// required, matching how hosts typically cross-compile this engine.
const driverName = "sqlite"
