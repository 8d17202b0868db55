package salesforce

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

const jwtBearerGrant = "urn:ietf:params:oauth:grant-type:jwt-bearer"

// Auth modes.
const (
	ModePassword = "password"
	ModeJWT      = "jwt"
)

// Credentials selects and carries one of the supported OAuth2 grants.
type Credentials struct {
	Mode         string // ModePassword (default) or ModeJWT
	ClientID     string
	ClientSecret string
	Username     string

	// Password grant. The security token is appended to the password.
	Password      string
	SecurityToken string

	// JWT bearer grant.
	PrivateKey *rsa.PrivateKey
}

// session is the result of a successful login.
type session struct {
	token       *oauth2.Token
	instanceURL string
}

// tokenResponse is the Salesforce token endpoint body.
type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	TokenType        string `json:"token_type"`
	InstanceURL      string `json:"instance_url"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// tokenEndpoint returns the configured token URL, or discovers it from the
// login URL's OpenID configuration.
func (c *Client) tokenEndpoint(ctx context.Context) (string, error) {
	if c.tokenURL != "" {
		return c.tokenURL, nil
	}

	provider, err := oidc.NewProvider(oidc.ClientContext(ctx, c.httpClient), c.loginURL)
	if err != nil {
		return "", fmt.Errorf("discover token endpoint: %w", err)
	}
	tokenURL := provider.Endpoint().TokenURL
	if tokenURL == "" {
		return "", fmt.Errorf("discover token endpoint: %s advertises no token_endpoint", c.loginURL)
	}

	c.tokenURL = tokenURL
	return tokenURL, nil
}

func (c *Client) login(ctx context.Context, tokenURL string) (*session, error) {
	switch c.creds.Mode {
	case "", ModePassword:
		return c.passwordLogin(ctx, tokenURL)
	case ModeJWT:
		return c.jwtLogin(ctx, tokenURL)
	default:
		return nil, fmt.Errorf("unknown auth mode %q", c.creds.Mode)
	}
}

func (c *Client) passwordLogin(ctx context.Context, tokenURL string) (*session, error) {
	conf := &oauth2.Config{
		ClientID:     c.creds.ClientID,
		ClientSecret: c.creds.ClientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL:  tokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	tok, err := conf.PasswordCredentialsToken(ctx, c.creds.Username, c.creds.Password+c.creds.SecurityToken)
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) {
			ae := &AuthError{Code: re.ErrorCode, Description: re.ErrorDescription}
			if re.Response != nil {
				ae.StatusCode = re.Response.StatusCode
			}
			return nil, ae
		}
		return nil, err
	}

	instanceURL, _ := tok.Extra("instance_url").(string)
	return &session{token: tok, instanceURL: instanceURL}, nil
}

// assertion builds the RS256 JWT presented in the bearer grant.
func (c *Client) assertion(now time.Time) (string, error) {
	if c.creds.PrivateKey == nil {
		return "", fmt.Errorf("jwt auth requires a private key")
	}
	claims := jwt.RegisteredClaims{
		Issuer:    c.creds.ClientID,
		Subject:   c.creds.Username,
		Audience:  jwt.ClaimStrings{c.loginURL},
		ExpiresAt: jwt.NewNumericDate(now.Add(3 * time.Minute)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(c.creds.PrivateKey)
}

func (c *Client) jwtLogin(ctx context.Context, tokenURL string) (*session, error) {
	signed, err := c.assertion(time.Now())
	if err != nil {
		return nil, fmt.Errorf("sign assertion: %w", err)
	}

	form := url.Values{
		"grant_type": {jwtBearerGrant},
		"assertion":  {signed},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read token response: %w", err)
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, fmt.Errorf("decode token response (%d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK || tr.AccessToken == "" {
		return nil, &AuthError{StatusCode: resp.StatusCode, Code: tr.Error, Description: tr.ErrorDescription}
	}

	tokenType := tr.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}
	return &session{
		token:       &oauth2.Token{AccessToken: tr.AccessToken, TokenType: tokenType},
		instanceURL: tr.InstanceURL,
	}, nil
}
