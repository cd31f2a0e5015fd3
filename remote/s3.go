package remote

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
)

// Earthdata Cloud archives live in a single region.
const s3Region = "us-west-2"

// sha256 of an empty payload, which is all a GET ever sends.
const emptyPayloadHash = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"

// bucketProviders maps Earthdata bucket name prefixes to the DAAC that
// issues credentials for them.
var bucketProviders = []struct {
	prefix   string
	provider string
}{
	{"lp-prod", "lpdaac"},
	{"ornl-cumulus", "ornldaac"},
	{"gesdisc-cumulus", "gesdisc"},
	{"podaac-ops-cumulus", "podaac"},
	{"ghrc-cumulus", "ghrcdaac"},
}

func bucketProvider(bucket string) (string, error) {
	for _, bp := range bucketProviders {
		if strings.HasPrefix(bucket, bp.prefix) {
			return bp.provider, nil
		}
	}
	return "", fmt.Errorf("remote: no credential provider known for bucket %q", bucket)
}

// s3Request builds a signed GET for one object. Direct s3 links need
// the provider's temporary credentials; plain bearer tokens do not
// work against the s3 endpoints.
func (c *Client) s3Request(ctx context.Context, u *url.URL) (*http.Request, error) {
	bucket := u.Host
	key := strings.TrimPrefix(u.Path, "/")
	if bucket == "" || key == "" {
		return nil, fmt.Errorf("remote: malformed s3 url %q", u.String())
	}

	provider, err := bucketProvider(bucket)
	if err != nil {
		return nil, err
	}
	creds, err := c.cachedCreds(ctx, provider)
	if err != nil {
		return nil, fmt.Errorf("fetching %s credentials: %w", provider, err)
	}

	endpoint := c.s3Endpoint
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", bucket, s3Region)
	} else {
		// path-style addressing for test servers
		endpoint = endpoint + "/" + bucket
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"/"+key, nil)
	if err != nil {
		return nil, fmt.Errorf("error building request: %v", err)
	}
	signV4(req, creds, s3Region, time.Now().UTC())
	return req, nil
}

// signV4 signs a request with AWS signature version 4 for the s3
// service. Only what a bodyless GET needs is implemented.
func signV4(req *http.Request, creds *Credentials, region string, now time.Time) {
	amzDate := now.Format("20060102T150405Z")
	dateStamp := now.Format("20060102")

	req.Header.Set("x-amz-date", amzDate)
	req.Header.Set("x-amz-content-sha256", emptyPayloadHash)
	if creds.SessionToken != "" {
		req.Header.Set("x-amz-security-token", creds.SessionToken)
	}

	headers := map[string]string{
		"host":                 req.URL.Host,
		"x-amz-content-sha256": emptyPayloadHash,
		"x-amz-date":           amzDate,
	}
	if creds.SessionToken != "" {
		headers["x-amz-security-token"] = creds.SessionToken
	}
	names := make([]string, 0, len(headers))
	for name := range headers {
		names = append(names, name)
	}
	sort.Strings(names)
	signedHeaders := strings.Join(names, ";")

	var canonicalHeaders strings.Builder
	for _, name := range names {
		canonicalHeaders.WriteString(name)
		canonicalHeaders.WriteString(":")
		canonicalHeaders.WriteString(headers[name])
		canonicalHeaders.WriteString("\n")
	}

	canonicalRequest := strings.Join([]string{
		http.MethodGet,
		req.URL.EscapedPath(),
		req.URL.RawQuery,
		canonicalHeaders.String(),
		signedHeaders,
		emptyPayloadHash,
	}, "\n")

	scope := strings.Join([]string{dateStamp, region, "s3", "aws4_request"}, "/")
	stringToSign := strings.Join([]string{
		"AWS4-HMAC-SHA256",
		amzDate,
		scope,
		hexSHA256([]byte(canonicalRequest)),
	}, "\n")

	key := hmacSHA256([]byte("AWS4"+creds.SecretAccessKey), dateStamp)
	key = hmacSHA256(key, region)
	key = hmacSHA256(key, "s3")
	key = hmacSHA256(key, "aws4_request")
	signature := hex.EncodeToString(hmacSHA256(key, stringToSign))

	req.Header.Set("Authorization", fmt.Sprintf(
		"AWS4-HMAC-SHA256 Credential=%s/%s, SignedHeaders=%s, Signature=%s",
		creds.AccessKeyID, scope, signedHeaders, signature))
}

func hexSHA256(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func hmacSHA256(key []byte, data string) []byte {
	h := hmac.New(sha256.New, key)
	h.Write([]byte(data))
	return h.Sum(nil)
}
