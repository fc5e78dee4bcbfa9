package schema

import (
	"time"

	"github.com/google/uuid"
)

const (
	RoleOwner  = "owner"
	RoleAdmin  = "admin"
	RoleMember = "member"
	RoleViewer = "viewer"
)

var roleOrder = map[string]int{
	RoleViewer: 0,
	RoleMember: 1,
	RoleAdmin:  2,
	RoleOwner:  3,
}

func ValidRole(role string) bool {
	_, ok := roleOrder[role]
	return ok
}

// RoleAtLeast reports whether role grants at least the privileges of min,
// using the total order owner > admin > member > viewer.
func RoleAtLeast(role, min string) bool {
	r, ok1 := roleOrder[role]
	m, ok2 := roleOrder[min]
	return ok1 && ok2 && r >= m
}

type User struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	Name     string `gorm:"size:100;not null"`
	Email    string `gorm:"unique;size:254;not null"`
	Password []byte

	IsAdmin       bool `gorm:"not null;default:false"`
	EmailVerified bool `gorm:"not null;default:false"`

	Banned     bool   `gorm:"not null;default:false"`
	BanReason  string `gorm:"size:500"`
	BanExpires *time.Time

	CreatedAt time.Time

	Memberships []OrganizationMember `gorm:"constraint:OnDelete:CASCADE"`
}

func (User) TableName() string { return "_sovrium_auth_users" }

type Organization struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	Name string `gorm:"size:100;not null"`
	Slug string `gorm:"unique;size:100;not null"`

	// Arbitrary json document attached by the organization owner.
	Metadata string

	MemberLimit int `gorm:"not null;default:0"`

	CreatedAt time.Time

	Members []OrganizationMember `gorm:"constraint:OnDelete:CASCADE"`
	Teams   []Team               `gorm:"constraint:OnDelete:CASCADE"`
}

func (Organization) TableName() string { return "_sovrium_auth_organizations" }

type OrganizationMember struct {
	UserId         uuid.UUID `gorm:"type:uuid;primaryKey"`
	OrganizationId uuid.UUID `gorm:"type:uuid;primaryKey"`

	Role string `gorm:"size:20;not null;default:'member'"`

	CreatedAt time.Time

	User         *User         `gorm:"constraint:OnDelete:CASCADE"`
	Organization *Organization `gorm:"constraint:OnDelete:CASCADE"`
}

func (OrganizationMember) TableName() string { return "organization_members" }

type Team struct {
	Id             uuid.UUID `gorm:"type:uuid;primaryKey"`
	OrganizationId uuid.UUID `gorm:"type:uuid;not null;index"`
	Name           string    `gorm:"size:100;not null"`

	Organization *Organization `gorm:"constraint:OnDelete:CASCADE"`
	Members      []TeamMember  `gorm:"constraint:OnDelete:CASCADE"`
}

func (Team) TableName() string { return "_sovrium_auth_teams" }

type TeamMember struct {
	TeamId uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserId uuid.UUID `gorm:"type:uuid;primaryKey"`

	Team *Team `gorm:"constraint:OnDelete:CASCADE"`
	User *User `gorm:"constraint:OnDelete:CASCADE"`
}

func (TeamMember) TableName() string { return "_sovrium_auth_team_members" }

type Session struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	UserId    uuid.UUID `gorm:"type:uuid;not null;index"`
	TokenHash string    `gorm:"unique;size:128;not null"`

	ExpiresAt time.Time `gorm:"not null"`
	Revoked   bool      `gorm:"not null;default:false"`

	IpAddress string `gorm:"size:64"`
	UserAgent string `gorm:"size:500"`

	// Set when the session was started via admin impersonation.
	ImpersonatedBy *uuid.UUID `gorm:"type:uuid"`

	CreatedAt time.Time

	User *User `gorm:"constraint:OnDelete:CASCADE"`
}

func (Session) TableName() string { return "sessions" }

type ApiKey struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	UserId  uuid.UUID `gorm:"type:uuid;not null"`
	KeyHash string    `gorm:"column:key_hash;unique;size:128;not null;index"`
	Name    string    `gorm:"size:200;not null"`

	Enabled   bool `gorm:"not null;default:true"`
	ExpiresAt *time.Time

	// Json list of permission strings granted to the key.
	Permissions string

	CreatedAt time.Time

	User *User `gorm:"constraint:OnDelete:CASCADE"`
}

func (ApiKey) TableName() string { return "_sovrium_auth_api_keys" }

type Verification struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	UserId     uuid.UUID `gorm:"type:uuid;not null;index"`
	Identifier string    `gorm:"size:50;not null"`
	Value      string    `gorm:"size:254;not null"`
	Token      string    `gorm:"unique;size:128;not null"`

	ExpiresAt time.Time `gorm:"not null"`
	CreatedAt time.Time
}

func (Verification) TableName() string { return "_sovrium_auth_verifications" }

type TableDef struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	// Null for tables that are visible to every organization.
	OrganizationId *uuid.UUID `gorm:"type:uuid;index"`

	Name string `gorm:"unique;size:63;not null"`

	CreatedAt time.Time
	UpdatedAt time.Time

	Fields []FieldDef `gorm:"constraint:OnDelete:CASCADE"`
}

func (TableDef) TableName() string { return "_sovrium_tables" }

type FieldDef struct {
	TableDefId uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name       string    `gorm:"size:63;primaryKey"`

	Type     string `gorm:"size:30;not null"`
	Required bool   `gorm:"not null;default:false"`
	Unique   bool   `gorm:"not null;default:false"`
	Indexed  bool   `gorm:"not null;default:false"`
	Default  string

	// Json encoded status options / relationship target, empty otherwise.
	Options string

	// Json role lists; empty means every role.
	ReadRoles  string
	WriteRoles string
}

func (FieldDef) TableName() string { return "_sovrium_table_fields" }

type ActivityLog struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	OrganizationId uuid.UUID `gorm:"type:uuid;not null;index"`
	UserId         uuid.UUID `gorm:"type:uuid;not null"`

	Action    string `gorm:"size:100;not null"`
	Detail    string
	IpAddress string `gorm:"size:64"`

	CreatedAt time.Time
}

func (ActivityLog) TableName() string { return "activity_logs" }

// All lists every metadata model for AutoMigrate and the gormigrate
// initial migration.
func All() []interface{} {
	return []interface{}{
		&User{}, &Organization{}, &OrganizationMember{}, &Team{}, &TeamMember{},
		&Session{}, &ApiKey{}, &Verification{},
		&TableDef{}, &FieldDef{}, &ActivityLog{},
	}
}
