package domain

// Session identifies the authenticated actor. It is issued by the token
// validator and passed read-only into every lifecycle operation; the core
// never mutates it. Owner is the email used as the task filter key.
type Session struct {
	UserID string
	Email  string
}

// Valid reports whether the session identifies a user.
func (s Session) Valid() bool {
	return s.UserID != "" && s.Email != ""
}
