// Package authz enforces role, permission, and ownership checks over an
// authenticated principal. Every denial is audited with a machine-readable
// reason before it is returned.
package authz

import (
	"context"
	"errors"
	"fmt"

	"github.com/novaos/backend/internal/core"
	"github.com/novaos/backend/internal/lens"
	"github.com/novaos/backend/internal/store"
)

// Reason is the machine-readable denial cause.
type Reason string

const (
	ReasonNotAuthenticated  Reason = "NOT_AUTHENTICATED"
	ReasonNotOwner          Reason = "NOT_OWNER"
	ReasonMissingPermission Reason = "MISSING_PERMISSION"
	ReasonMissingRole       Reason = "MISSING_ROLE"
	ReasonResourceNotFound  Reason = "RESOURCE_NOT_FOUND"
	ReasonBlocked           Reason = "BLOCKED"
)

// Denial is a failed check. Ownership denials deliberately surface as
// NOT_FOUND so resource existence never leaks to non-owners.
type Denial struct {
	Reason   Reason
	Required string
	Resource string
}

func (d *Denial) Error() string {
	if d.Required != "" {
		return fmt.Sprintf("authorization denied: %s (%s)", d.Reason, d.Required)
	}
	return "authorization denied: " + string(d.Reason)
}

// APIError converts a denial into the handler error envelope.
func (d *Denial) APIError() *core.APIError {
	switch d.Reason {
	case ReasonNotAuthenticated:
		return core.NewAPIError(core.CodeNotAuthenticated, "authentication required")
	case ReasonMissingPermission:
		return core.NewAPIError(core.CodeMissingPermission, "missing required permission").
			WithDetail("required", d.Required)
	case ReasonMissingRole:
		return core.NewAPIError(core.CodeMissingRole, "missing required role").
			WithDetail("required", d.Required)
	case ReasonBlocked:
		return core.NewAPIError(core.CodeUserBlocked, "account temporarily blocked")
	default:
		// NOT_OWNER and RESOURCE_NOT_FOUND are indistinguishable on the
		// wire: both read as a missing resource.
		return core.NewAPIError(core.CodeNotFound, "resource not found")
	}
}

// OwnershipRegistry resolves who owns a resource. Implementations return
// store.ErrNotFound for resources that do not exist.
type OwnershipRegistry interface {
	Owner(ctx context.Context, resourceType, resourceID string) (string, error)
}

// actionPermissions maps coarse action names onto required permissions.
var actionPermissions = map[string]core.Permission{
	"lens.turn":    core.PermLensInvoke,
	"audit.read":   core.PermAuditRead,
	"audit.verify": core.PermAuditVerify,
	"audit.erase":  core.PermAuditErase,
	"limits.read":  core.PermLimitsRead,
}

// Checker runs authorization checks and audits denials.
type Checker struct {
	ownership OwnershipRegistry
	auditor   lens.Auditor
}

// NewChecker builds a checker. Both collaborators may be nil: without a
// registry every ownership check fails closed, without an auditor denials
// are silent.
func NewChecker(ownership OwnershipRegistry, auditor lens.Auditor) *Checker {
	return &Checker{ownership: ownership, auditor: auditor}
}

func (c *Checker) deny(ctx context.Context, p *core.Principal, d *Denial) *Denial {
	if c.auditor != nil {
		userID := ""
		if p != nil {
			userID = p.ID
		}
		c.auditor.Record(ctx, lens.AuditEvent{
			Category:    "authorization",
			Action:      "authorization_denied",
			Severity:    "warning",
			UserID:      userID,
			Description: d.Error(),
			Details: map[string]any{
				"reason":   string(d.Reason),
				"required": d.Required,
				"resource": d.Resource,
			},
			Success: false,
		})
	}
	return d
}

// RequireAuthenticated rejects anonymous principals.
func (c *Checker) RequireAuthenticated(ctx context.Context, p *core.Principal) error {
	if !p.IsAuthenticated() {
		return c.deny(ctx, p, &Denial{Reason: ReasonNotAuthenticated})
	}
	return nil
}

// RequireRole requires one specific role.
func (c *Checker) RequireRole(ctx context.Context, p *core.Principal, role core.Role) error {
	return c.RequireAnyRole(ctx, p, role)
}

// RequireAnyRole requires at least one of the given roles.
func (c *Checker) RequireAnyRole(ctx context.Context, p *core.Principal, roles ...core.Role) error {
	if err := c.RequireAuthenticated(ctx, p); err != nil {
		return err
	}
	for _, r := range roles {
		if p.HasRole(r) {
			return nil
		}
	}
	return c.deny(ctx, p, &Denial{Reason: ReasonMissingRole, Required: rolesList(roles)})
}

// RequirePermission requires one specific permission.
func (c *Checker) RequirePermission(ctx context.Context, p *core.Principal, perm core.Permission) error {
	if err := c.RequireAuthenticated(ctx, p); err != nil {
		return err
	}
	if !p.HasPermission(perm) {
		return c.deny(ctx, p, &Denial{Reason: ReasonMissingPermission, Required: string(perm)})
	}
	return nil
}

// RequireAnyPermission requires at least one of the given permissions.
func (c *Checker) RequireAnyPermission(ctx context.Context, p *core.Principal, perms ...core.Permission) error {
	if err := c.RequireAuthenticated(ctx, p); err != nil {
		return err
	}
	for _, perm := range perms {
		if p.HasPermission(perm) {
			return nil
		}
	}
	return c.deny(ctx, p, &Denial{Reason: ReasonMissingPermission, Required: permsList(perms)})
}

// RequireAllPermissions requires every listed permission.
func (c *Checker) RequireAllPermissions(ctx context.Context, p *core.Principal, perms ...core.Permission) error {
	if err := c.RequireAuthenticated(ctx, p); err != nil {
		return err
	}
	for _, perm := range perms {
		if !p.HasPermission(perm) {
			return c.deny(ctx, p, &Denial{Reason: ReasonMissingPermission, Required: string(perm)})
		}
	}
	return nil
}

// RequireAction resolves an action name to its permission and checks it.
// Unknown actions fail closed.
func (c *Checker) RequireAction(ctx context.Context, p *core.Principal, action string) error {
	perm, ok := actionPermissions[action]
	if !ok {
		return c.deny(ctx, p, &Denial{Reason: ReasonMissingPermission, Required: action})
	}
	if err := c.RequireAuthenticated(ctx, p); err != nil {
		return err
	}
	if !p.HasPermission(perm) {
		return c.deny(ctx, p, &Denial{Reason: ReasonMissingPermission, Required: string(perm), Resource: action})
	}
	return nil
}

// OwnershipOptions tunes an ownership check.
type OwnershipOptions struct {
	// AllowAdmin lets admins act on resources they do not own.
	AllowAdmin bool
}

// RequireOwnership checks that the principal owns the resource. A missing
// resource and a foreign resource produce the same outward denial.
func (c *Checker) RequireOwnership(ctx context.Context, p *core.Principal, resourceType, resourceID string, opts OwnershipOptions) error {
	if err := c.RequireAuthenticated(ctx, p); err != nil {
		return err
	}
	res := resourceType + ":" + resourceID
	if c.ownership == nil {
		return c.deny(ctx, p, &Denial{Reason: ReasonResourceNotFound, Resource: res})
	}

	owner, err := c.ownership.Owner(ctx, resourceType, resourceID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.deny(ctx, p, &Denial{Reason: ReasonResourceNotFound, Resource: res})
		}
		return err
	}
	if owner == p.ID {
		return nil
	}
	if opts.AllowAdmin && (p.HasRole(core.RoleAdmin) || p.HasPermission(core.PermAdminAll)) {
		return nil
	}
	return c.deny(ctx, p, &Denial{Reason: ReasonNotOwner, Resource: res})
}

// DenyBlocked records an abuse-block denial for a principal the tier
// limiter has locked out.
func (c *Checker) DenyBlocked(ctx context.Context, p *core.Principal) error {
	return c.deny(ctx, p, &Denial{Reason: ReasonBlocked})
}

func rolesList(roles []core.Role) string {
	s := ""
	for i, r := range roles {
		if i > 0 {
			s += ","
		}
		s += string(r)
	}
	return s
}

func permsList(perms []core.Permission) string {
	s := ""
	for i, p := range perms {
		if i > 0 {
			s += ","
		}
		s += string(p)
	}
	return s
}
