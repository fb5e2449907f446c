// Package authz is the authorization policy of the back office.
//
// A Catalog holds the ranked roles, the permission names grouped by domain
// area, and the flat role grants. It is built once from a Definition and is
// never mutated afterwards, so a single value can be shared by every request.
// Reloading means building a new Catalog and swapping the pointer.
//
// Checks are pure functions of the catalog:
//
//	catalog.RoleAtLeast("admin", "tecnico")            // true, nil
//	catalog.HasPermission("tecnico", "aprobar_pedidos") // false
//	catalog.Authorize(user, authz.MinRole("admin"))    // Decision
//
// Object-level rules load the target first, so a missing object is reported
// as ErrNotFound before any permission is evaluated:
//
//	a, err := authz.AuthorizeObject(ctx, catalog, user, rule, id, repo.Get)
//
// Grants are flat: a permission granted to tecnico is not implied for admin.
// PermissionDef.From expands a grant to every role at or above a level when
// the catalog is built, which keeps hierarchical intent explicit.
package authz
