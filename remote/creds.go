// Package remote fetches granules and short-lived data-pool
// credentials from the Earthdata cloud archives.
package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// credEndpoints maps DAAC provider names to their temporary-credential
// services.
var credEndpoints = map[string]string{
	"podaac":   "https://archive.podaac.earthdata.nasa.gov/s3credentials",
	"gesdisc":  "https://data.gesdisc.earthdata.nasa.gov/s3credentials",
	"lpdaac":   "https://data.lpdaac.earthdatacloud.nasa.gov/s3credentials",
	"ornldaac": "https://data.ornldaac.earthdata.nasa.gov/s3credentials",
	"ghrcdaac": "https://data.ghrc.earthdata.nasa.gov/s3credentials",
}

// Credentials are short-lived data-pool access tokens.
type Credentials struct {
	AccessKeyID     string    `json:"accessKeyId"`
	SecretAccessKey string    `json:"secretAccessKey"`
	SessionToken    string    `json:"sessionToken"`
	Expiration      time.Time `json:"expiration"`
}

// Client talks to the Earthdata endpoints. Temporary data-pool
// credentials are cached per provider until shortly before they
// expire.
type Client struct {
	http *http.Client

	// overridable in tests; empty values select the production
	// endpoints
	credsEndpoints map[string]string
	s3Endpoint     string

	mu    sync.Mutex
	creds map[string]*Credentials
}

func NewClient() *Client {
	return &Client{
		http:           &http.Client{Timeout: 60 * time.Second},
		credsEndpoints: credEndpoints,
		creds:          make(map[string]*Credentials),
	}
}

// TempCreds fetches temporary credentials from the given provider
// (for example "lpdaac").
func (c *Client) TempCreds(ctx context.Context, provider string) (*Credentials, error) {
	endpoint, ok := c.credsEndpoints[provider]
	if !ok {
		return nil, fmt.Errorf("remote.TempCreds: unknown provider %q", provider)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("error building request: %v", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error getting credentials: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var creds Credentials
	if err := json.NewDecoder(resp.Body).Decode(&creds); err != nil {
		return nil, fmt.Errorf("error decoding response: %v", err)
	}
	return &creds, nil
}

// cachedCreds returns usable credentials for the provider, refreshing
// them when absent or within a minute of expiry.
func (c *Client) cachedCreds(ctx context.Context, provider string) (*Credentials, error) {
	c.mu.Lock()
	cached := c.creds[provider]
	c.mu.Unlock()
	if cached != nil && (cached.Expiration.IsZero() || time.Until(cached.Expiration) > time.Minute) {
		return cached, nil
	}

	creds, err := c.TempCreds(ctx, provider)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.creds[provider] = creds
	c.mu.Unlock()
	return creds, nil
}
