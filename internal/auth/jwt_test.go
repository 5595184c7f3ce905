package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueParseRoundTrip(t *testing.T) {
	token, exp, err := Issue("teacher-7", RoleTeacher, "s1", []string{"c1", "c2"}, "schoolgate", "secret", time.Hour)
	require.NoError(t, err)
	assert.True(t, exp.After(time.Now()))

	claims, err := Parse(token, "secret", "schoolgate")
	require.NoError(t, err)
	assert.Equal(t, RoleTeacher, claims.Role)
	assert.Equal(t, "s1", claims.SchoolID)
	assert.Equal(t, []string{"c1", "c2"}, claims.ClassIDs)
	assert.Equal(t, "teacher-7", claims.Subject)
}

func TestParseRejectsWrongKey(t *testing.T) {
	token, _, err := Issue("x", RoleGuard, "s1", nil, "schoolgate", "secret", time.Hour)
	require.NoError(t, err)

	_, err = Parse(token, "other-secret", "schoolgate")
	assert.Error(t, err)
}

func TestParseRejectsWrongIssuer(t *testing.T) {
	token, _, err := Issue("x", RoleGuard, "s1", nil, "someone-else", "secret", time.Hour)
	require.NoError(t, err)

	_, err = Parse(token, "secret", "schoolgate")
	assert.Error(t, err)
}

func TestParseRejectsExpired(t *testing.T) {
	token, _, err := Issue("x", RoleGuard, "s1", nil, "schoolgate", "secret", -time.Minute)
	require.NoError(t, err)

	_, err = Parse(token, "secret", "schoolgate")
	assert.Error(t, err)
}

func TestHasClass(t *testing.T) {
	teacher := Claims{Role: RoleTeacher, ClassIDs: []string{"c1"}}
	assert.True(t, teacher.HasClass("c1"))
	assert.False(t, teacher.HasClass("c2"))

	// No class list means no restriction.
	assert.True(t, Claims{Role: RoleTeacher}.HasClass("c2"))
	assert.True(t, Claims{Role: RoleSchoolAdmin, ClassIDs: []string{"c1"}}.HasClass("c2"))
}
