package auth

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/contentstudio-backend/pkg/enums"
)

var (
	errMissingMembership = errors.New("token missing workspace membership")
	errInvalidRole       = errors.New("token role invalid")
)

// AccessTokenPayload is what the identity provider hands over when minting.
type AccessTokenPayload struct {
	UserID      uuid.UUID
	WorkspaceID uuid.UUID
	Role        enums.MemberRole
	JTI         string
}

// AccessTokenClaims binds one user to one workspace membership. Switching
// workspace means minting a new token.
type AccessTokenClaims struct {
	UserID      uuid.UUID        `json:"user_id"`
	WorkspaceID uuid.UUID        `json:"workspace_id"`
	Role        enums.MemberRole `json:"role"`
	jwt.RegisteredClaims
}

// Validate runs after the registered-claim checks during parsing and on the
// payload before minting.
func (c AccessTokenClaims) Validate() error {
	if c.UserID == uuid.Nil || c.WorkspaceID == uuid.Nil {
		return errMissingMembership
	}
	if !c.Role.IsValid() {
		return errInvalidRole
	}
	return nil
}
