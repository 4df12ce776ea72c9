package user

import "time"

// Roles form a closed enumeration. Public self-registration always gets
// RoleUser; anything else is assigned through the admin surface.
const (
	RoleAdmin     = "admin"
	RoleModerator = "moderator"
	RoleUser      = "user"
)

func ValidRole(role string) bool {
	switch role {
	case RoleAdmin, RoleModerator, RoleUser:
		return true
	}
	return false
}

// User is a principal. PasswordHash never leaves the server; handlers expose
// the Public projection instead.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	Role         string
	IsActive     bool
	IsVerified   bool
	DisplayName  string
	AvatarURL    string
	LastLoginAt  *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Public is the outward-facing projection of a user record.
type Public struct {
	ID          string     `json:"id"`
	Email       string     `json:"email"`
	Role        string     `json:"role"`
	IsActive    bool       `json:"is_active"`
	IsVerified  bool       `json:"is_verified"`
	DisplayName string     `json:"display_name,omitempty"`
	AvatarURL   string     `json:"avatar_url,omitempty"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

func (u User) Public() Public {
	return Public{
		ID:          u.ID,
		Email:       u.Email,
		Role:        u.Role,
		IsActive:    u.IsActive,
		IsVerified:  u.IsVerified,
		DisplayName: u.DisplayName,
		AvatarURL:   u.AvatarURL,
		LastLoginAt: u.LastLoginAt,
		CreatedAt:   u.CreatedAt,
	}
}
