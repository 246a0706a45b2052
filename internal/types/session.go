package types

import "strings"

// Profile is the user data returned by the last successful login or verify.
// It is only ever replaced as a whole.
type Profile struct {
	Email string   `json:"email"`
	Name  string   `json:"name"`
	IPs   []string `json:"ips"`
}

// Session is the persisted credential pair. Token and Profile are written
// together and cleared together.
type Session struct {
	Token   string   `json:"userToken,omitempty"`
	Profile *Profile `json:"userInfo,omitempty"`
}

// Empty reports whether no session token is stored.
func (s *Session) Empty() bool {
	return s == nil || s.Token == ""
}

// NewProfile builds a Profile from backend fields, deriving the display name
// from the email local part when the backend omits it.
func NewProfile(email, name string, ips []string) *Profile {
	if name == "" {
		name = DisplayNameFromEmail(email)
	}
	if ips == nil {
		ips = []string{}
	}
	return &Profile{
		Email: email,
		Name:  name,
		IPs:   append([]string(nil), ips...),
	}
}

// DisplayNameFromEmail returns the part of email before the first '@'.
func DisplayNameFromEmail(email string) string {
	local, _, _ := strings.Cut(email, "@")
	return local
}
