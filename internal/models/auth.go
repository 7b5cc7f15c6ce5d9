package models

// TokenPair is the session credential. Both fields are set or both are empty.
type TokenPair struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

// Valid reports whether the pair holds a usable session.
func (p TokenPair) Valid() bool {
	return p.Access != "" && p.Refresh != ""
}

// Empty reports whether neither token is present.
func (p TokenPair) Empty() bool {
	return p.Access == "" && p.Refresh == ""
}

// LoginRequest is the body of POST /api/auth/token/.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// RefreshRequest is the body of POST /api/auth/token/refresh/.
type RefreshRequest struct {
	Refresh string `json:"refresh"`
}

// RefreshResponse may rotate the refresh token when the server is configured to.
type RefreshResponse struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh,omitempty"`
}

// RegisterRequest is the body of POST /api/analytics/register/.
type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RegisterResponse is the created account.
type RegisterResponse struct {
	ID       ID     `json:"id,omitempty"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
}
