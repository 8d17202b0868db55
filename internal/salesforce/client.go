// Package salesforce is a minimal REST client for the Salesforce metadata
// describe API.
package salesforce

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/fozzylyon/sf-schemas/internal/logging"
	"github.com/fozzylyon/sf-schemas/internal/metrics"
	"github.com/fozzylyon/sf-schemas/internal/schema"
)

// DefaultAPIVersion is used when Config.APIVersion is empty.
const DefaultAPIVersion = "59.0"

// Config holds client configuration.
type Config struct {
	LoginURL    string
	TokenURL    string // discovered from LoginURL when empty
	APIVersion  string
	Credentials Credentials
	Timeout     time.Duration
	HTTPClient  *http.Client // overrides the default transport, mainly for tests
}

// Client talks to one Salesforce org.
type Client struct {
	loginURL   string
	tokenURL   string
	apiVersion string
	creds      Credentials
	httpClient *http.Client

	mu      sync.RWMutex
	api     *http.Client
	session *session
}

// New creates a new client. It does not contact Salesforce.
func New(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = DefaultAPIVersion
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: cfg.Timeout,
			Transport: logging.Transport(&http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:        10,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			}),
		}
	}

	return &Client{
		loginURL:   strings.TrimSuffix(cfg.LoginURL, "/"),
		tokenURL:   cfg.TokenURL,
		apiVersion: strings.TrimPrefix(cfg.APIVersion, "v"),
		creds:      cfg.Credentials,
		httpClient: httpClient,
	}
}

// Authenticate logs in and keeps the resulting session for Describe.
func (c *Client) Authenticate(ctx context.Context) error {
	tokenURL, err := c.tokenEndpoint(ctx)
	if err != nil {
		metrics.RecordAuthAttempt(false)
		return err
	}

	sess, err := c.login(ctx, tokenURL)
	if err != nil {
		metrics.RecordAuthAttempt(false)
		return fmt.Errorf("salesforce login: %w", err)
	}
	if sess.instanceURL == "" {
		metrics.RecordAuthAttempt(false)
		return fmt.Errorf("salesforce login: token response has no instance_url")
	}
	metrics.RecordAuthAttempt(true)

	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	api := oauth2.NewClient(ctx, oauth2.StaticTokenSource(sess.token))

	c.mu.Lock()
	c.session = sess
	c.api = api
	c.mu.Unlock()

	logging.WithContext(ctx).Info("authenticated to Salesforce",
		zap.String("instance_url", sess.instanceURL),
		zap.String("username", c.creds.Username))
	return nil
}

// InstanceURL returns the REST base of the current session.
func (c *Client) InstanceURL() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.session == nil {
		return ""
	}
	return c.session.instanceURL
}

// describeResponse is the subset of the sObject describe body we keep.
type describeResponse struct {
	Name   string         `json:"name"`
	Fields []schema.Field `json:"fields"`
}

// Describe returns the field descriptors of one sObject. Unknown objects
// yield an error matching ErrNotFound.
func (c *Client) Describe(ctx context.Context, objectName string) ([]schema.Field, error) {
	c.mu.RLock()
	api, sess := c.api, c.session
	c.mu.RUnlock()
	if sess == nil {
		return nil, fmt.Errorf("describe %s: not authenticated", objectName)
	}

	start := time.Now()
	endpoint := fmt.Sprintf("%s/services/data/v%s/sobjects/%s/describe",
		sess.instanceURL, c.apiVersion, url.PathEscape(objectName))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := api.Do(req)
	if err != nil {
		metrics.RecordDescribe(time.Since(start), "error")
		return nil, fmt.Errorf("describe %s: %w", objectName, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		ae := apiErrorFromResponse(resp)
		if IsNotFound(ae) {
			metrics.RecordDescribe(time.Since(start), "not_found")
		} else {
			metrics.RecordDescribe(time.Since(start), "error")
		}
		return nil, fmt.Errorf("describe %s: %w", objectName, ae)
	}

	var dr describeResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		metrics.RecordDescribe(time.Since(start), "error")
		return nil, fmt.Errorf("decode describe %s: %w", objectName, err)
	}

	metrics.RecordDescribe(time.Since(start), "success")
	logging.WithContext(ctx).Debug("described object",
		zap.String("object", objectName),
		zap.Int("fields", len(dr.Fields)),
		zap.Duration("duration", time.Since(start)))

	return dr.Fields, nil
}
