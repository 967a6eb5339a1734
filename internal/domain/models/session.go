package models

import (
	"encoding/json"
	"time"
)

// Session is the authenticated identity of the device user.
// Empty strings, a zero Expiry and a nil User mean "absent".
type Session struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
	Role         Role
	Onboarded    bool
	User         json.RawMessage
}

// LoggedIn reports whether the session carries an access token.
// Role and Onboarded do not count: they survive logout.
func (s Session) LoggedIn() bool {
	return s.AccessToken != ""
}
