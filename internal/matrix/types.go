// Package matrix implements the slice of the Matrix client-server API this
// module needs: homeserver base URLs, login flow negotiation, and the
// password/token login calls. Request and response shapes follow the
// client-server specification and are an external contract, not ours.
package matrix

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/avolkov/mxauth/internal/id"
)

// FlowType identifies an authentication flow advertised by a homeserver.
// Unrecognized wire values are preserved verbatim so new server-side flow
// types never break negotiation.
type FlowType string

const (
	FlowPassword FlowType = "m.login.password"
	FlowSSO      FlowType = "m.login.sso"
	FlowToken    FlowType = "m.login.token"
)

// Known reports whether t is one of the flow types this client understands.
func (t FlowType) Known() bool {
	switch t {
	case FlowPassword, FlowSSO, FlowToken:
		return true
	}
	return false
}

// Brand identifies a well-known SSO identity provider brand. Values outside
// the named set are carried through as-is.
type Brand string

const (
	BrandApple    Brand = "apple"
	BrandFacebook Brand = "facebook"
	BrandGitHub   Brand = "github"
	BrandGitLab   Brand = "gitlab"
	BrandGoogle   Brand = "google"
)

// IdentityProvider is one SSO provider option within an SSO flow.
type IdentityProvider struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Brand Brand  `json:"brand,omitempty"`
	// Icon is an opaque content reference (mxc:// URI); resolving it to an
	// image is a presentation concern.
	Icon string `json:"icon,omitempty"`
}

// LoginFlow is one advertised authentication flow. IdentityProviders is
// populated only for FlowSSO.
type LoginFlow struct {
	Type              FlowType           `json:"type"`
	IdentityProviders []IdentityProvider `json:"identity_providers,omitempty"`
}

// LoginResult is the outcome of a successful credential exchange. The access
// token is a secret: it must never be logged and should be wiped once the
// session has been persisted.
type LoginResult struct {
	UserID      id.UserID
	DeviceID    string
	AccessToken string
	Homeserver  Homeserver
}

// Homeserver is a validated Matrix homeserver base URL. The zero value is
// not usable; construct via NewHomeserver or discovery.
type Homeserver struct {
	baseURL *url.URL
}

// NewHomeserver validates raw as a homeserver base URL: scheme must be http
// or https, the host must be non-empty, and the URL must carry no query or
// fragment. A trailing slash on the path is stripped so later path joins are
// unambiguous.
func NewHomeserver(raw string) (Homeserver, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Homeserver{}, fmt.Errorf("parse homeserver url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return Homeserver{}, fmt.Errorf("homeserver url %q: scheme must be http or https", raw)
	}
	if u.Host == "" {
		return Homeserver{}, fmt.Errorf("homeserver url %q: missing host", raw)
	}
	if u.RawQuery != "" || u.Fragment != "" {
		return Homeserver{}, fmt.Errorf("homeserver url %q: query and fragment not allowed", raw)
	}
	u.Path = strings.TrimRight(u.Path, "/")
	return Homeserver{baseURL: u}, nil
}

// IsZero reports whether h carries no URL.
func (h Homeserver) IsZero() bool { return h.baseURL == nil }

// URL returns the base URL as a string, without a trailing slash.
func (h Homeserver) URL() string {
	if h.baseURL == nil {
		return ""
	}
	return h.baseURL.String()
}

// Path joins p onto the base URL. Query-less convenience for endpoint URLs.
func (h Homeserver) Path(p string) string {
	return h.URL() + "/" + strings.TrimLeft(p, "/")
}

func (h Homeserver) String() string { return h.URL() }

// ErrMissingParam is returned when a server response lacks a field the
// client cannot proceed without.
var ErrMissingParam = errors.New("missing parameter in server response")

// ErrInvalidCredentials is returned when the homeserver rejects the
// presented credentials (errcode M_FORBIDDEN).
var ErrInvalidCredentials = errors.New("invalid credentials")

// APIError is a standard Matrix error body ({"errcode": ..., "error": ...})
// paired with the HTTP status it arrived with.
type APIError struct {
	StatusCode int
	Code       string `json:"errcode"`
	Message    string `json:"error"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("matrix: %s (%s, http %d)", e.Message, e.Code, e.StatusCode)
}

// Is lets errors.Is(err, ErrInvalidCredentials) match an M_FORBIDDEN response.
func (e *APIError) Is(target error) bool {
	return target == ErrInvalidCredentials && e.Code == "M_FORBIDDEN"
}

// IsAPIError reports whether err is an APIError with the given errcode.
func IsAPIError(err error, code string) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.Code == code
}
