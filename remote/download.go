package remote

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"

	"spectral-unmix/utils"
)

// Download fetches a granule URL into destDir and returns the local
// path. Local paths pass through untouched. An already-downloaded
// file is reused. https links send token as a bearer token (Earthdata
// application tokens); s3 links are signed with the owning DAAC's
// temporary credentials.
func (c *Client) Download(ctx context.Context, rawURL, destDir, token string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Scheme == "file" {
		// treat as a local filesystem path
		p := rawURL
		if u != nil && u.Scheme == "file" {
			p = u.Path
		}
		if _, err := os.Stat(p); err != nil {
			return "", fmt.Errorf("remote.Download: local file %s: %w", p, err)
		}
		return p, nil
	}

	if err := utils.CreateFolder(destDir); err != nil {
		return "", err
	}
	// check the cache before building any request, so a cached s3
	// granule never costs a credentials round trip
	dest := filepath.Join(destDir, path.Base(u.Path))
	if info, err := os.Stat(dest); err == nil && info.Size() > 0 {
		return dest, nil
	}

	var req *http.Request
	switch u.Scheme {
	case "http", "https":
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return "", fmt.Errorf("error building request: %v", err)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	case "s3":
		req, err = c.s3Request(ctx, u)
		if err != nil {
			return "", fmt.Errorf("remote.Download: %w", err)
		}
	default:
		return "", fmt.Errorf("remote.Download: unsupported scheme %q", u.Scheme)
	}
	if err := c.fetchToFile(req, dest); err != nil {
		return "", err
	}
	return dest, nil
}

// fetchToFile streams the response into dest via a temp file so a
// failed download never looks like a cached granule.
func (c *Client) fetchToFile(req *http.Request, dest string) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("error downloading %s: %v", req.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	tmp := dest + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("error creating %s: %v", tmp, err)
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("error writing %s: %v", tmp, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
