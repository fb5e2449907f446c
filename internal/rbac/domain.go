package rbac

import "time"

// Role is a persisted role row.
type Role struct {
	ID          int64
	Name        string
	Level       int
	Description string
	CreatedAt   time.Time
}

// Permission is a persisted permission row.
type Permission struct {
	ID          int64
	Name        string
	Domain      string
	Description string
}

// Grant ties a permission to a role by name.
type Grant struct {
	Role       string
	Permission string
}

// Snapshot is the raw catalog content read from storage.
type Snapshot struct {
	Roles       []Role
	Permissions []Permission
	Grants      []Grant
}

// SeedReport summarises a Seed run.
type SeedReport struct {
	Roles       int
	Permissions int
	Grants      int
}
