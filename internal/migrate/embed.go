package migrate

import "embed"

// Files carries the schema migrations and seeds compiled into the binary.
//
//go:embed sql seeds
var Files embed.FS

const (
	// MigrationsDir is the path of the .up.sql/.down.sql pairs inside Files.
	MigrationsDir = "sql"
	// SeedsDir is the path of the idempotent seed files inside Files.
	SeedsDir = "seeds"
)
