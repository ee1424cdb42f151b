// Package core provides the foundational types for the Trellis client.
//
// This package contains:
//   - Identity types: User, Credentials
//   - Catalog types: FavoriteType, FavoriteRecord, EntityItem
//   - The client error taxonomy (see errors.go)
package core

// FavoriteType identifies which catalog collection an item belongs to.
// The set of types is fixed by the backend's favorites API.
type FavoriteType string

const (
	FavoriteTypeBlog    FavoriteType = "blog"
	FavoriteTypeProduct FavoriteType = "product"
	FavoriteTypeService FavoriteType = "service"
)

// String returns the string representation of the FavoriteType.
func (t FavoriteType) String() string {
	return string(t)
}

// Valid reports whether t is one of the recognized favorite types.
func (t FavoriteType) Valid() bool {
	switch t {
	case FavoriteTypeBlog, FavoriteTypeProduct, FavoriteTypeService:
		return true
	}
	return false
}

// FavoriteTypes lists all recognized favorite types in a stable order.
func FavoriteTypes() []FavoriteType {
	return []FavoriteType{FavoriteTypeBlog, FavoriteTypeProduct, FavoriteTypeService}
}

// User is the canonical authenticated identity shape. Backend responses are
// normalized into this shape at the session boundary; downstream code never
// branches on nested or partial user payloads.
type User struct {
	ID             int64  `json:"id"`
	Email          string `json:"email"`
	Name           string `json:"name"`
	ProfilePicture string `json:"profile_picture,omitempty"`
}

// Valid reports whether the user represents a real identity. An object
// missing both email and name is treated as "no user", never as a logged-in
// user with blank fields. Every read of a persisted user applies this check
// so corrupted or partial stored state cannot masquerade as a session.
func (u User) Valid() bool {
	return u.Email != "" || u.Name != ""
}

// NormalizeUser flattens the duck-typed user payloads the backend has been
// observed to return: either a flat user object or one nested under a "user"
// key. The zero User is returned for shapes that carry no identity.
func NormalizeUser(raw map[string]any) User {
	if raw == nil {
		return User{}
	}
	if nested, ok := raw["user"].(map[string]any); ok {
		// Prefer the nested object when it carries identity fields.
		if inner := flattenUser(nested); inner.Valid() {
			return inner
		}
	}
	return flattenUser(raw)
}

func flattenUser(m map[string]any) User {
	var u User
	switch id := m["id"].(type) {
	case float64:
		u.ID = int64(id)
	case int64:
		u.ID = id
	case int:
		u.ID = int64(id)
	}
	if s, ok := m["email"].(string); ok {
		u.Email = s
	}
	if s, ok := m["name"].(string); ok {
		u.Name = s
	}
	if s, ok := m["profile_picture"].(string); ok {
		u.ProfilePicture = s
	}
	return u
}

// FavoriteRecord marks the current user's interest in a catalog item.
// The registry holds at most one record per (FavoriteType, ItemID) pair.
type FavoriteRecord struct {
	ID           int64        `json:"id"`
	FavoriteType FavoriteType `json:"favorite_type"`
	ItemID       int64        `json:"item_id"`
}

// EntityItem is a generic catalog entry. FavoriteCount is a denormalized
// counter cached on the item; it is adjusted incrementally on the current
// user's own toggle actions and corrected by full collection refetches.
type EntityItem struct {
	ID            int64  `json:"id"`
	Title         string `json:"title"`
	Slug          string `json:"slug,omitempty"`
	Description   string `json:"description,omitempty"`
	Image         string `json:"image,omitempty"`
	FavoriteCount int    `json:"favorite_count"`
}
