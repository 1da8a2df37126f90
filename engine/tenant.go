package engine

// =============================================================================
// TENANT CONTEXT - Explicit scoping value, no ambient state
// =============================================================================

// Tenant scopes every store call to one management company. It replaces
// any notion of an ambient "current schema": callers construct a Tenant
// once per request and pass it explicitly all the way down.
type Tenant struct {
	// ID is the tenant identifier rows are keyed by.
	ID string

	// Schema is the persistence partition label. For schema-per-tenant
	// databases this is the schema name; the SQLite store keys rows by
	// tenant ID and keeps this for reporting only.
	Schema string
}

// DefaultTenant is used by single-tenant deployments and tests.
var DefaultTenant = Tenant{ID: "default", Schema: "public"}
