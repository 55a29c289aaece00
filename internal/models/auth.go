package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// LoginRequest holds credentials for authenticating a user.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// LoginResponse returns the issued access token and user info.
type LoginResponse struct {
	AccessToken string    `json:"access_token"`
	ExpiresIn   int64     `json:"expires_in"`
	User        UserInfo  `json:"user"`
	IssuedAt    time.Time `json:"issued_at"`
}

// UserInfo describes the authenticated user in responses.
type UserInfo struct {
	ID         string   `json:"id"`
	Email      string   `json:"email"`
	FullName   string   `json:"full_name"`
	Role       UserRole `json:"role"`
	StudentIDs []string `json:"student_ids,omitempty"`
}

// JWTClaims represents the JWT payload for access tokens.
// StudentIDs lists the students whose grades the user may read: the student's own record,
// or the dependants of a guardian.
type JWTClaims struct {
	UserID     string   `json:"user_id"`
	Role       UserRole `json:"role"`
	Email      string   `json:"email"`
	FullName   string   `json:"full_name"`
	StudentIDs []string `json:"student_ids,omitempty"`
	jwt.RegisteredClaims
}

// CanViewStudent reports whether the claims grant read access to the student's grades.
func (c *JWTClaims) CanViewStudent(studentID string) bool {
	if c == nil || studentID == "" {
		return false
	}
	for _, id := range c.StudentIDs {
		if id == studentID {
			return true
		}
	}
	return false
}
