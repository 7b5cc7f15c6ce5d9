package api

import (
	"context"
	"errors"
	nethttp "net/http"
	"strings"

	"github.com/examlytics/examctl/internal/constants"
	"github.com/examlytics/examctl/internal/models"
)

// credentialStatus maps rejected credentials to KindAuth; other failures stay KindQuery.
func credentialStatus(status int) (Kind, bool) {
	if status == nethttp.StatusBadRequest || status == nethttp.StatusUnauthorized {
		return KindAuth, true
	}
	return 0, false
}

// Login exchanges username and password for a token pair. The request carries
// no bearer credential and a 401 here does not trigger session handling.
func (c *Client) Login(ctx context.Context, username, password string) (models.TokenPair, error) {
	if strings.TrimSpace(username) == "" || password == "" {
		return models.TokenPair{}, Validation("login", "username and password are required")
	}

	body, err := jsonBody(models.LoginRequest{Username: username, Password: password})
	if err != nil {
		return models.TokenPair{}, &Error{Kind: KindValidation, Op: "login", Err: err}
	}

	var pair models.TokenPair
	err = c.doJSON(ctx, request{
		op:          "login",
		method:      nethttp.MethodPost,
		path:        constants.TokenPath,
		body:        body,
		contentType: "application/json",
		public:      true,
		kind:        KindQuery,
		statusKind:  credentialStatus,
	}, &pair)
	if err != nil {
		return models.TokenPair{}, err
	}
	if !pair.Valid() {
		return models.TokenPair{}, &Error{Kind: KindAuth, Op: "login", Detail: "server did not return a complete token pair"}
	}
	return pair, nil
}

// RefreshToken obtains a new access token. When the server rotates refresh
// tokens the response carries a new refresh token as well.
func (c *Client) RefreshToken(ctx context.Context, refresh string) (models.RefreshResponse, error) {
	if refresh == "" {
		return models.RefreshResponse{}, Validation("refresh token", "no refresh token stored")
	}

	body, err := jsonBody(models.RefreshRequest{Refresh: refresh})
	if err != nil {
		return models.RefreshResponse{}, &Error{Kind: KindValidation, Op: "refresh token", Err: err}
	}

	var out models.RefreshResponse
	err = c.doJSON(ctx, request{
		op:          "refresh token",
		method:      nethttp.MethodPost,
		path:        constants.TokenRefreshPath,
		body:        body,
		contentType: "application/json",
		public:      true,
		kind:        KindQuery,
		statusKind:  credentialStatus,
	}, &out)
	if err != nil {
		return models.RefreshResponse{}, err
	}
	if out.Access == "" {
		return models.RefreshResponse{}, &Error{Kind: KindAuth, Op: "refresh token", Detail: "server did not return an access token"}
	}
	return out, nil
}

// Register creates an account. Field problems (e.g. a taken username) come back
// as a KindValidation error with Fields populated.
func (c *Client) Register(ctx context.Context, req models.RegisterRequest) (*models.RegisterResponse, error) {
	if strings.TrimSpace(req.Username) == "" || req.Password == "" {
		return nil, Validation("register", "username and password are required")
	}

	body, err := jsonBody(req)
	if err != nil {
		return nil, &Error{Kind: KindValidation, Op: "register", Err: err}
	}

	var out models.RegisterResponse
	err = c.doJSON(ctx, request{
		op:          "register",
		method:      nethttp.MethodPost,
		path:        constants.RegisterPath,
		body:        body,
		contentType: "application/json",
		public:      true,
		kind:        KindQuery,
		statusKind: func(status int) (Kind, bool) {
			if status == nethttp.StatusBadRequest {
				return KindValidation, true
			}
			return 0, false
		},
	}, &out)
	if err != nil {
		return nil, err
	}
	if out.Username == "" {
		out.Username = req.Username
	}
	return &out, nil
}

// UsernameTaken reports whether a registration error is the server's
// duplicate-username field error.
func UsernameTaken(err error) bool {
	var e *Error
	if !errors.As(err, &e) || e.Kind != KindValidation {
		return false
	}
	_, ok := e.Fields["username"]
	return ok
}
