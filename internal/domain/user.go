package domain

import (
	"context"
	"time"
)

// Role gates which operations a user may invoke.
type Role string

const (
	RoleDispatcher Role = "DISPATCHER"
	RoleField      Role = "FIELD"
	RoleSupervisor Role = "SUPERVISOR"
	RoleAdmin      Role = "ADMIN"
)

// Valid reports whether the role is a member of the enum.
func (r Role) Valid() bool {
	switch r {
	case RoleDispatcher, RoleField, RoleSupervisor, RoleAdmin:
		return true
	}
	return false
}

// Identity is the resolved per-request identity context. It is supplied by
// the auth layer and trusted completely; the core never re-derives it.
type Identity struct {
	UserID   string
	Username string
	Role     Role
	AgencyID string
}

// User is an identity record. A user belongs to exactly one agency for its
// lifetime.
type User struct {
	ID           string    `json:"id"`
	AgencyID     string    `json:"agency"`
	Username     string    `json:"username"`
	DisplayName  string    `json:"displayName"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"role"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// UserRepository defines data access for users. Lookup by username is
// unscoped because it backs login, which happens before any agency context
// exists.
type UserRepository interface {
	Create(ctx context.Context, user *User) error
	GetByID(ctx context.Context, id string) (*User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)
	Update(ctx context.Context, user *User) error
}

// LatLng is a map coordinate pair.
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// AgencySettings holds per-agency configuration. ResponsePlans maps an
// incident type to the ordered unit-type codes a dispatcher should send.
type AgencySettings struct {
	ResponsePlans map[string][]string `json:"responsePlans"`
	MapCenter     *LatLng             `json:"mapCenter,omitempty"`
}

// Agency is a tenant: a fire/EMS department owning its own incidents, units,
// and users. Code (e.g. "HILLSFIRE") is globally unique.
type Agency struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Code      string         `json:"code"`
	Timezone  string         `json:"timezone"`
	Settings  AgencySettings `json:"settings"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// AgencyRepository defines data access for agencies.
type AgencyRepository interface {
	Create(ctx context.Context, agency *Agency) error
	GetByID(ctx context.Context, id string) (*Agency, error)
	GetByCode(ctx context.Context, code string) (*Agency, error)
	List(ctx context.Context) ([]*Agency, error)
}
