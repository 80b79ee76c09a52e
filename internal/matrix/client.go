package matrix

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/avolkov/mxauth/internal/id"
	"github.com/avolkov/mxauth/internal/logging"
)

// Client exposes the authentication endpoints of one homeserver.
//
// Contract:
//   - GetLoginFlows: fetch advertised flows, preserving server order.
//   - LoginPassword: exchange username/password for a session.
//   - LoginToken: exchange an SSO login token for a session.
//
// All methods honor context cancellation. Network failures are returned
// as wrapped transport errors; server-side rejections as *APIError
// (M_FORBIDDEN additionally matches ErrInvalidCredentials).
type Client interface {
	Homeserver() Homeserver
	GetLoginFlows(ctx context.Context) ([]LoginFlow, error)
	LoginPassword(ctx context.Context, username, password, deviceName string) (*LoginResult, error)
	LoginToken(ctx context.Context, token, deviceName string) (*LoginResult, error)
}

// httpClient is the concrete Client speaking the client-server HTTP API.
type httpClient struct {
	hs   Homeserver
	http *http.Client
	log  logging.Logger
}

// NewClient returns a Client bound to the given homeserver. A nil httpc
// falls back to a client with a 15s timeout; a nil log discards.
func NewClient(hs Homeserver, httpc *http.Client, log logging.Logger) Client {
	if httpc == nil {
		httpc = &http.Client{Timeout: 15 * time.Second}
	}
	if log == nil {
		log = logging.Discard()
	}
	return &httpClient{hs: hs, http: httpc, log: log.With("component", "matrix")}
}

func (c *httpClient) Homeserver() Homeserver { return c.hs }

type loginFlowsResponse struct {
	Flows []LoginFlow `json:"flows"`
}

// GetLoginFlows queries GET /_matrix/client/v3/login. Unknown flow type
// strings are kept as-is rather than rejected, and the order of flows is
// exactly the server's: some UIs key their layout off that order.
func (c *httpClient) GetLoginFlows(ctx context.Context) ([]LoginFlow, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.hs.Path("/_matrix/client/v3/login"), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get login flows: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return nil, decodeError(resp)
	}

	var body loginFlowsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode login flows: %w", err)
	}

	c.log.Debug(ctx, "negotiated login flows", "count", len(body.Flows))
	return body.Flows, nil
}

type loginIdentifier struct {
	Type string `json:"type"`
	User string `json:"user,omitempty"`
}

type loginRequest struct {
	Type                     string           `json:"type"`
	Identifier               *loginIdentifier `json:"identifier,omitempty"`
	Password                 string           `json:"password,omitempty"`
	Token                    string           `json:"token,omitempty"`
	InitialDeviceDisplayName string           `json:"initial_device_display_name,omitempty"`
}

type loginResponse struct {
	UserID      string `json:"user_id"`
	AccessToken string `json:"access_token"`
	DeviceID    string `json:"device_id"`
	WellKnown   *struct {
		Homeserver *struct {
			BaseURL string `json:"base_url"`
		} `json:"m.homeserver"`
	} `json:"well_known,omitempty"`
}

// LoginPassword performs a m.login.password exchange.
func (c *httpClient) LoginPassword(ctx context.Context, username, password, deviceName string) (*LoginResult, error) {
	return c.login(ctx, loginRequest{
		Type:                     string(FlowPassword),
		Identifier:               &loginIdentifier{Type: "m.id.user", User: username},
		Password:                 password,
		InitialDeviceDisplayName: deviceName,
	})
}

// LoginToken performs a m.login.token exchange with a token obtained from an
// SSO redirect callback.
func (c *httpClient) LoginToken(ctx context.Context, token, deviceName string) (*LoginResult, error) {
	return c.login(ctx, loginRequest{
		Type:                     string(FlowToken),
		Token:                    token,
		InitialDeviceDisplayName: deviceName,
	})
}

func (c *httpClient) login(ctx context.Context, body loginRequest) (*LoginResult, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.hs.Path("/_matrix/client/v3/login"), bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return nil, decodeError(resp)
	}

	var lr loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return nil, fmt.Errorf("decode login response: %w", err)
	}
	if lr.UserID == "" || lr.AccessToken == "" || lr.DeviceID == "" {
		return nil, ErrMissingParam
	}

	uid, err := id.Parse(lr.UserID)
	if err != nil {
		return nil, fmt.Errorf("server returned bad user id: %w", err)
	}

	// The login response may advertise a corrected base URL; prefer it when
	// it validates, otherwise keep the homeserver we already resolved.
	hs := c.hs
	if lr.WellKnown != nil && lr.WellKnown.Homeserver != nil {
		if advertised, err := NewHomeserver(lr.WellKnown.Homeserver.BaseURL); err == nil {
			hs = advertised
		}
	}

	c.log.Info(ctx, "login succeeded", "user_id", lr.UserID, "device_id", lr.DeviceID, "type", body.Type)
	return &LoginResult{UserID: uid, DeviceID: lr.DeviceID, AccessToken: lr.AccessToken, Homeserver: hs}, nil
}

// decodeError turns a non-2xx response into an *APIError. An M_FORBIDDEN
// APIError also matches ErrInvalidCredentials via errors.Is.
func decodeError(resp *http.Response) error {
	ae := &APIError{StatusCode: resp.StatusCode}
	if err := json.NewDecoder(resp.Body).Decode(ae); err != nil || ae.Code == "" {
		ae.Code = "M_UNKNOWN"
		ae.Message = resp.Status
	}
	return ae
}
