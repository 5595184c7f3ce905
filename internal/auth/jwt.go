package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Roles understood by the streaming and dashboard endpoints.
const (
	RoleSuperAdmin  = "SUPER_ADMIN"
	RoleSchoolAdmin = "SCHOOL_ADMIN"
	RoleTeacher     = "TEACHER"
	RoleGuard       = "GUARD"
)

// Claims represents the JWT payload for dashboard and stream subscribers.
// ClassIDs carries a teacher's assigned classes; scope filtering happens
// once at subscribe time against these values.
type Claims struct {
	Role     string   `json:"role"`
	SchoolID string   `json:"schoolId,omitempty"`
	ClassIDs []string `json:"classIds,omitempty"`
	SSE      bool     `json:"sse,omitempty"`
	jwt.RegisteredClaims
}

// HasClass reports whether the subject may see the given class.
// A nil ClassIDs list means no class restriction.
func (c Claims) HasClass(classID string) bool {
	if c.Role != RoleTeacher || c.ClassIDs == nil {
		return true
	}
	for _, id := range c.ClassIDs {
		if id == classID {
			return true
		}
	}
	return false
}

// Issue signs an HS256 token for the given subject.
func Issue(subject, role, schoolID string, classIDs []string, issuer, key string, ttl time.Duration) (string, time.Time, error) {
	exp := time.Now().Add(ttl)
	claims := Claims{
		Role:     role,
		SchoolID: schoolID,
		ClassIDs: classIDs,
		SSE:      true,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
	if err != nil {
		return "", time.Time{}, err
	}
	return token, exp, nil
}

// Parse validates a token and returns claims.
func Parse(tokenStr, key, issuer string) (Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(key), nil
	})
	if err != nil {
		return Claims{}, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Claims{}, errors.New("invalid token")
	}
	if issuer != "" && claims.Issuer != issuer {
		return Claims{}, errors.New("issuer mismatch")
	}
	return *claims, nil
}
