package models

// User is the profile returned by the remote service on login.
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
}

// SessionContext holds the bearer token and profile of the logged-in user.
// It lives from login to logout and is handed explicitly to whoever needs it.
type SessionContext struct {
	AuthToken   string `json:"auth_token"`
	CurrentUser User   `json:"current_user"`
}
