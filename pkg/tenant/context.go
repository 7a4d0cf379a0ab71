// Package tenant defines the per-operation tenant context. Every database
// operation the core performs runs under exactly one Context: either scoped
// to a single organization, or a privileged root context that bypasses the
// row-level policies. The org filter is applied by the database session, not
// by SQL predicates in application code.
package tenant

import (
	"github.com/foreman-dev/foreman/pkg/errors"
	"github.com/foreman-dev/foreman/pkg/observability"
)

// MaxOrgIDLength bounds the opaque organization identifier
const MaxOrgIDLength = 255

// Context is a capability object carrying either an org scope or root.
// The zero value is invalid; construct through NewContext or UpgradeToRoot.
type Context struct {
	orgID string
	root  bool
}

// NewContext creates a tenant context scoped to the given organization
func NewContext(orgID string) (Context, error) {
	if orgID == "" {
		return Context{}, errors.InvalidInput("org id is required")
	}
	if len(orgID) > MaxOrgIDLength {
		return Context{}, errors.InvalidInput("org id exceeds 255 characters")
	}
	return Context{orgID: orgID}, nil
}

// UpgradeToRoot constructs a privileged context that bypasses tenant
// isolation. Only administrative callers may invoke this; the upgrade is
// always logged with its reason. Ordinary API paths must not call it.
func UpgradeToRoot(reason string, logger observability.Logger) Context {
	if logger != nil {
		logger.Warn("Tenant context upgraded to root", map[string]interface{}{
			"reason": reason,
		})
	}
	return Context{root: true}
}

// OrgID returns the organization this context is scoped to; empty for root
func (c Context) OrgID() string { return c.orgID }

// IsRoot reports whether this context bypasses the row-level policies
func (c Context) IsRoot() bool { return c.root }

// Valid reports whether the context was properly constructed
func (c Context) Valid() bool { return c.root || c.orgID != "" }
