package schema

import (
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	ErrUserNotFound         = errors.New("user not found")
	ErrOrganizationNotFound = errors.New("organization not found")
	ErrMemberNotFound       = errors.New("organization member not found")
	ErrTeamNotFound         = errors.New("team not found")
	ErrSessionNotFound      = errors.New("session not found")
	ErrApiKeyNotFound       = errors.New("api key not found")
	ErrTableNotFound        = errors.New("table not found")
	ErrActivityNotFound     = errors.New("activity log entry not found")
	ErrDbAccessFailed       = errors.New("db access failed")
)

func GetUser(userId uuid.UUID, db *gorm.DB) (User, error) {
	var user User

	result := db.First(&user, "id = ?", userId)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return user, ErrUserNotFound
		}
		slog.Error("sql error in get user", "user_id", userId, "error", result.Error)
		return user, ErrDbAccessFailed
	}

	return user, nil
}

func GetUserByEmail(email string, db *gorm.DB) (User, error) {
	var user User

	result := db.First(&user, "email = ?", email)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return user, ErrUserNotFound
		}
		slog.Error("sql error in get user by email", "error", result.Error)
		return user, ErrDbAccessFailed
	}

	return user, nil
}

func GetOrganization(orgId uuid.UUID, db *gorm.DB) (Organization, error) {
	var org Organization

	result := db.First(&org, "id = ?", orgId)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return org, ErrOrganizationNotFound
		}
		slog.Error("sql error in get organization", "organization_id", orgId, "error", result.Error)
		return org, ErrDbAccessFailed
	}

	return org, nil
}

func GetMember(orgId, userId uuid.UUID, db *gorm.DB) (OrganizationMember, error) {
	var member OrganizationMember

	result := db.First(&member, "organization_id = ? and user_id = ?", orgId, userId)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return member, ErrMemberNotFound
		}
		slog.Error("sql error in get organization member", "organization_id", orgId, "user_id", userId, "error", result.Error)
		return member, ErrDbAccessFailed
	}

	return member, nil
}

func GetTeam(teamId uuid.UUID, db *gorm.DB) (Team, error) {
	var team Team

	result := db.First(&team, "id = ?", teamId)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return team, ErrTeamNotFound
		}
		slog.Error("sql error in get team", "team_id", teamId, "error", result.Error)
		return team, ErrDbAccessFailed
	}

	return team, nil
}

func GetSessionByTokenHash(tokenHash string, db *gorm.DB) (Session, error) {
	var session Session

	result := db.First(&session, "token_hash = ?", tokenHash)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return session, ErrSessionNotFound
		}
		slog.Error("sql error in get session", "error", result.Error)
		return session, ErrDbAccessFailed
	}

	return session, nil
}

func GetTableDef(tableId uuid.UUID, db *gorm.DB) (TableDef, error) {
	var table TableDef

	result := db.Preload("Fields").First(&table, "id = ?", tableId)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return table, ErrTableNotFound
		}
		slog.Error("sql error in get table def", "table_id", tableId, "error", result.Error)
		return table, ErrDbAccessFailed
	}

	return table, nil
}

func GetTableDefByName(name string, db *gorm.DB) (TableDef, error) {
	var table TableDef

	result := db.Preload("Fields").First(&table, "name = ?", name)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return table, ErrTableNotFound
		}
		slog.Error("sql error in get table def by name", "name", name, "error", result.Error)
		return table, ErrDbAccessFailed
	}

	return table, nil
}

func GetUserOrganizationIds(userId uuid.UUID, db *gorm.DB) ([]uuid.UUID, error) {
	var members []OrganizationMember
	result := db.Find(&members, "user_id = ?", userId)
	if result.Error != nil {
		slog.Error("sql error in get user organization ids", "user_id", userId, "error", result.Error)
		return nil, ErrDbAccessFailed
	}
	ids := make([]uuid.UUID, 0, len(members))
	for _, member := range members {
		ids = append(ids, member.OrganizationId)
	}
	return ids, nil
}
