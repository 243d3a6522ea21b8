package sdk

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Role is a server-owned role record.
type Role struct {
	ID          int64        `json:"id"`
	Name        string       `json:"nombre"`
	Slug        string       `json:"slug,omitempty"`
	Description string       `json:"descripcion,omitempty"`
	Color       string       `json:"color,omitempty"`
	Icon        string       `json:"icono,omitempty"`
	Priority    int          `json:"prioridad,omitempty"`
	Active      *bool        `json:"activo,omitempty"`
	Permissions []Permission `json:"permisos,omitempty"`
	Users       []User       `json:"usuarios,omitempty"`
	UserCount   int          `json:"total_usuarios,omitempty"`
}

// Ref converts the role into the reference form carried on a Principal.
func (r Role) Ref() RoleRef {
	return RoleRef{ID: r.ID, Name: r.Name, Slug: r.Slug}
}

// Matches reports whether name equals the role's display name or slug.
func (r Role) Matches(name string) bool {
	return r.Ref().Matches(name)
}

// Permission is a server-owned permission record. Role payloads sometimes list
// permissions by slug only, so a bare string decodes too.
type Permission struct {
	ID          int64  `json:"id,omitempty"`
	Name        string `json:"nombre,omitempty"`
	Slug        string `json:"slug,omitempty"`
	Description string `json:"descripcion,omitempty"`
	Module      string `json:"modulo,omitempty"`
}

func (p *Permission) UnmarshalJSON(data []byte) error {
	var slug string
	if err := json.Unmarshal(data, &slug); err == nil {
		*p = Permission{Name: slug, Slug: slug}
		return nil
	}
	type plain Permission
	var v plain
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("decode permission: %w", err)
	}
	*p = Permission(v)
	return nil
}

func (p Permission) Matches(name string) bool {
	return name != "" && (p.Name == name || p.Slug == name)
}

// RoleInput is the payload for creating or updating a role. Nil fields are omitted.
type RoleInput struct {
	Name        string   `json:"nombre,omitempty"`
	Description *string  `json:"descripcion,omitempty"`
	Color       *string  `json:"color,omitempty"`
	Icon        *string  `json:"icono,omitempty"`
	Priority    *int     `json:"prioridad,omitempty"`
	Permissions []string `json:"permisos,omitempty"`
}

// ValidateRoleName enforces the role naming rules checked before any request.
func ValidateRoleName(name string) error {
	trimmed := strings.TrimSpace(name)
	switch n := utf8.RuneCountInString(trimmed); {
	case trimmed == "":
		return &ValidationError{Field: "nombre", Message: "role name is required"}
	case n < 3:
		return &ValidationError{Field: "nombre", Message: "role name must be at least 3 characters"}
	case n > 50:
		return &ValidationError{Field: "nombre", Message: "role name must not exceed 50 characters"}
	}
	return nil
}

// ListRolesOptions selects the role listing shape. ForceRefresh bypasses the
// cache but is not part of the cache key.
type ListRolesOptions struct {
	IncludePermissions bool
	IncludeUsers       bool
	Status             string
	ForceRefresh       bool
}

func (o ListRolesOptions) cacheKey() string {
	return fmt.Sprintf("roles|perms=%t|users=%t|status=%s", o.IncludePermissions, o.IncludeUsers, o.Status)
}

func (o ListRolesOptions) query() url.Values {
	q := url.Values{}
	if o.IncludePermissions {
		q.Set("include_permissions", "true")
	}
	if o.IncludeUsers {
		q.Set("include_users", "true")
	}
	if o.Status != "" {
		q.Set("status", o.Status)
	}
	return q
}

// GetRoleOptions selects the single-role shape. Permissions are included unless excluded.
type GetRoleOptions struct {
	ExcludePermissions bool
	IncludeUsers       bool
	ForceRefresh       bool
}

func (o GetRoleOptions) cacheKey(id int64) string {
	return fmt.Sprintf("role|%d|perms=%t|users=%t", id, !o.ExcludePermissions, o.IncludeUsers)
}

func (o GetRoleOptions) query() url.Values {
	q := url.Values{}
	if !o.ExcludePermissions {
		q.Set("include_permissions", "true")
	}
	if o.IncludeUsers {
		q.Set("include_users", "true")
	}
	return q
}

// PageParams is the page/limit pair used by paginated sub-resources.
type PageParams struct {
	Page  int
	Limit int
}

func (p PageParams) query() url.Values {
	q := url.Values{}
	if p.Page > 0 {
		q.Set("page", strconv.Itoa(p.Page))
	}
	if p.Limit > 0 {
		q.Set("limit", strconv.Itoa(p.Limit))
	}
	return q
}

// Page is a paginated listing.
type Page[T any] struct {
	Data  []T `json:"data"`
	Total int `json:"total"`
	Page  int `json:"page,omitempty"`
	Limit int `json:"limit,omitempty"`
	Pages int `json:"pages,omitempty"`
}

// Stats is a free-form statistics document.
type Stats map[string]any

type roleIDBody struct {
	RoleID int64 `json:"role_id"`
}

type roleIDsBody struct {
	RoleIDs []int64 `json:"role_ids"`
}

type permissionsBody struct {
	Permissions []string `json:"permisos"`
}

func rolePath(id int64, parts ...string) string {
	return joinPath(append([]string{"roles", strconv.FormatInt(id, 10)}, parts...)...)
}

func userPath(id int64, parts ...string) string {
	return joinPath(append([]string{"usuarios", strconv.FormatInt(id, 10)}, parts...)...)
}

func joinPath(parts ...string) string {
	escaped := make([]string, len(parts))
	for i, p := range parts {
		escaped[i] = url.PathEscape(p)
	}
	return "/" + strings.Join(escaped, "/")
}
