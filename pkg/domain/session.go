package domain

import "strings"

// Session carries the acting user into every mutating operation.
type Session struct {
	UserID      string `json:"user_id"`
	AuthUID     string `json:"auth_uid"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email,omitempty"`
	Department  string `json:"department,omitempty"`
	Role        string `json:"role,omitempty"`
}

// SessionFromUser builds a session for an application user.
func SessionFromUser(u User) Session {
	return Session{
		UserID:      u.ID,
		AuthUID:     u.AuthUID,
		DisplayName: u.DisplayName,
		Email:       u.Email,
		Department:  u.Department,
		Role:        u.Role,
	}
}

// Actor is the name recorded on history entries.
func (s Session) Actor() string {
	if name := strings.TrimSpace(s.DisplayName); name != "" {
		return name
	}
	if s.UserID != "" {
		return s.UserID
	}
	return "system"
}

// Valid reports whether the session identifies a user.
func (s Session) Valid() bool {
	return s.UserID != "" || s.AuthUID != ""
}
