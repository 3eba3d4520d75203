package auth

// User mirrors the profile the server returns on login and registration.
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
}

// AuthSession pairs a bearer token with the profile it was issued for.
// At most one instance is live at a time; nil means logged out.
type AuthSession struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}
