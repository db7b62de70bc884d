package duoapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/loginshield/duoflow"
	"github.com/loginshield/duoflow/internal"
)

const (
	healthCheckPath = "/oauth/v1/health_check"
	authorizePath   = "/oauth/v1/authorize"
	tokenPath       = "/oauth/v1/token"

	clientAssertionType = "urn:ietf:params:oauth:client-assertion-type:jwt-bearer"

	clientIDLength     = 20
	clientSecretLength = 40
	stateLength        = 36

	assertionLifetime   = 5 * time.Minute
	healthCheckMaxTries = 3
)

// Error is a provider-reported failure.
type Error struct {
	Code        string
	Description string
}

func (e *Error) Error() string {
	if e.Description == "" {
		return "duoapi: " + e.Code
	}
	return "duoapi: " + e.Code + ": " + e.Description
}

// Config identifies the Duo application. RedirectURL may be left empty and
// set per attempt through SetRedirectURL.
type Config struct {
	ClientID     string
	ClientSecret string
	APIHost      string
	RedirectURL  string

	// HTTPClient overrides the transport; defaults to a 30 s client.
	HTTPClient *http.Client
}

// Client talks to one Duo application. The redirect URL is the only
// mutable field; everything else is fixed at construction.
type Client struct {
	clientID     string
	clientSecret string
	apiHost      string
	httpClient   *http.Client

	mu          sync.Mutex
	redirectURL string

	now func() time.Time
}

// New validates the credentials and returns a Client.
func New(cfg Config) (*Client, error) {
	if len(cfg.ClientID) != clientIDLength {
		return nil, fmt.Errorf("duoapi: client id must be %d characters", clientIDLength)
	}
	if len(cfg.ClientSecret) != clientSecretLength {
		return nil, fmt.Errorf("duoapi: client secret must be %d characters", clientSecretLength)
	}
	if cfg.APIHost == "" {
		return nil, errors.New("duoapi: api host required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	return &Client{
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		apiHost:      strings.TrimSuffix(cfg.APIHost, "/"),
		httpClient:   httpClient,
		redirectURL:  cfg.RedirectURL,
		now:          time.Now,
	}, nil
}

// SetRedirectURL updates the redirect target used by CreateAuthURL and
// ExchangeAuthorizationCode.
func (c *Client) SetRedirectURL(u string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.redirectURL = u
}

func (c *Client) currentRedirectURL() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.redirectURL
}

func (c *Client) endpoint(path string) string {
	host := c.apiHost
	if !strings.Contains(host, "://") {
		host = "https://" + host
	}
	return host + path
}

// GenerateState returns a fresh unguessable correlation token.
func (c *Client) GenerateState() (string, error) {
	return internal.NewStateToken(stateLength)
}

// clientAssertion signs the per-request authentication JWT. aud must be
// the endpoint the assertion is presented to.
func (c *Client) clientAssertion(aud string) (string, error) {
	now := c.now()
	claims := jwt.MapClaims{
		"iss": c.clientID,
		"sub": c.clientID,
		"aud": aud,
		"exp": now.Add(assertionLifetime).Unix(),
		"iat": now.Unix(),
		"jti": uuid.NewString(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte(c.clientSecret))
}

// HealthCheck verifies the provider is reachable and the credentials are
// accepted. Transient failures are retried a few times before the error is
// surfaced; the caller decides fail-open versus fail-closed.
func (c *Client) HealthCheck(ctx context.Context) error {
	endpoint := c.endpoint(healthCheckPath)

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		assertion, err := c.clientAssertion(endpoint)
		if err != nil {
			return struct{}{}, backoff.Permanent(err)
		}

		form := url.Values{
			"client_id":        {c.clientID},
			"client_assertion": {assertion},
		}
		body, err := c.postForm(ctx, endpoint, form)
		if err != nil {
			return struct{}{}, err
		}

		var resp struct {
			Stat    string `json:"stat"`
			Code    int    `json:"code"`
			Message string `json:"message"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return struct{}{}, err
		}
		if resp.Stat != "OK" {
			return struct{}{}, backoff.Permanent(&Error{
				Code:        fmt.Sprintf("health_check_%d", resp.Code),
				Description: resp.Message,
			})
		}
		return struct{}{}, nil
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(healthCheckMaxTries))

	return err
}

// CreateAuthURL builds the hosted-prompt URL carrying a signed request
// object that binds the username and state token to this attempt.
func (c *Client) CreateAuthURL(username, state string) (string, error) {
	if username == "" {
		return "", errors.New("duoapi: username required")
	}
	if len(state) < 16 || len(state) > 1024 {
		return "", errors.New("duoapi: state must be between 16 and 1024 characters")
	}

	redirectURL := c.currentRedirectURL()
	if redirectURL == "" {
		return "", errors.New("duoapi: redirect url not set")
	}

	now := c.now()
	claims := jwt.MapClaims{
		"iss":                    c.clientID,
		"aud":                    c.endpoint(""),
		"exp":                    now.Add(assertionLifetime).Unix(),
		"response_type":          "code",
		"scope":                  "openid",
		"client_id":              c.clientID,
		"redirect_uri":           redirectURL,
		"state":                  state,
		"duo_uname":              username,
		"use_duo_code_attribute": true,
	}
	request, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte(c.clientSecret))
	if err != nil {
		return "", err
	}

	query := url.Values{
		"response_type": {"code"},
		"client_id":     {c.clientID},
		"request":       {request},
	}
	return c.endpoint(authorizePath) + "?" + query.Encode(), nil
}

// ExchangeAuthorizationCode trades the callback's authorization code for
// the decoded 2FA result. The id_token is verified against the client
// secret and must name the expected user.
func (c *Client) ExchangeAuthorizationCode(ctx context.Context, code, username string) (*duoflow.SecondFactorResult, error) {
	if code == "" {
		return nil, &Error{Code: "missing_code"}
	}

	endpoint := c.endpoint(tokenPath)
	assertion, err := c.clientAssertion(endpoint)
	if err != nil {
		return nil, err
	}

	form := url.Values{
		"grant_type":            {"authorization_code"},
		"code":                  {code},
		"redirect_uri":          {c.currentRedirectURL()},
		"client_assertion_type": {clientAssertionType},
		"client_assertion":      {assertion},
	}
	body, err := c.postForm(ctx, endpoint, form)
	if err != nil {
		return nil, err
	}

	var resp struct {
		IDToken          string `json:"id_token"`
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, &Error{Code: resp.Error, Description: resp.ErrorDescription}
	}
	if resp.IDToken == "" {
		return nil, &Error{Code: "missing_id_token"}
	}

	token, err := jwt.Parse(
		resp.IDToken,
		func(*jwt.Token) (any, error) { return []byte(c.clientSecret), nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS512.Alg()}),
		jwt.WithAudience(c.clientID),
		jwt.WithIssuer(endpoint),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, &Error{Code: "invalid_id_token", Description: err.Error()}
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, &Error{Code: "invalid_id_token", Description: "unexpected claims shape"}
	}
	preferred, _ := claims["preferred_username"].(string)
	if preferred != username {
		return nil, &Error{Code: "username_mismatch"}
	}

	result := &duoflow.SecondFactorResult{
		Username: preferred,
		Raw:      map[string]any(claims),
	}
	if iat, err := claims.GetIssuedAt(); err == nil && iat != nil {
		result.IssuedAt = iat.Time
	}
	return result, nil
}

func (c *Client) postForm(ctx context.Context, endpoint string, form url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		// The token endpoint reports errors as JSON with a non-200 status.
		var provider struct {
			Error            string `json:"error"`
			ErrorDescription string `json:"error_description"`
		}
		if jsonErr := json.Unmarshal(body, &provider); jsonErr == nil && provider.Error != "" {
			return nil, &Error{Code: provider.Error, Description: provider.ErrorDescription}
		}
		return nil, &Error{Code: fmt.Sprintf("http_%d", resp.StatusCode)}
	}
	return body, nil
}
