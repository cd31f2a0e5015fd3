package remote

import (
	"net/http"
	"strings"
	"testing"
	"time"
)

func TestBucketProvider(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"lp-prod-protected":            "lpdaac",
		"lp-prod-public":               "lpdaac",
		"ornl-cumulus-prod-protected":  "ornldaac",
		"gesdisc-cumulus-prod":         "gesdisc",
		"podaac-ops-cumulus-protected": "podaac",
		"ghrc-cumulus-prod":            "ghrcdaac",
	}
	for bucket, want := range cases {
		got, err := bucketProvider(bucket)
		if err != nil {
			t.Fatalf("bucketProvider(%q) returned error: %v", bucket, err)
		}
		if got != want {
			t.Fatalf("bucketProvider(%q) = %q, want %q", bucket, got, want)
		}
	}
	if _, err := bucketProvider("someone-elses-bucket"); err == nil {
		t.Fatal("expected error for unknown bucket")
	}
}

func TestSignV4(t *testing.T) {
	t.Parallel()

	req, err := http.NewRequest(http.MethodGet,
		"https://lp-prod-protected.s3.us-west-2.amazonaws.com/EMITL2ARFL/EMIT_RFL_001.nc", nil)
	if err != nil {
		t.Fatal(err)
	}
	creds := &Credentials{
		AccessKeyID:     "AKIDEXAMPLE",
		SecretAccessKey: "secret",
		SessionToken:    "token",
	}
	when := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	signV4(req, creds, "us-west-2", when)

	if got := req.Header.Get("x-amz-date"); got != "20260301T120000Z" {
		t.Fatalf("x-amz-date %q", got)
	}
	if got := req.Header.Get("x-amz-content-sha256"); got != emptyPayloadHash {
		t.Fatalf("x-amz-content-sha256 %q", got)
	}
	if got := req.Header.Get("x-amz-security-token"); got != "token" {
		t.Fatalf("x-amz-security-token %q", got)
	}

	auth := req.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "AWS4-HMAC-SHA256 Credential=AKIDEXAMPLE/20260301/us-west-2/s3/aws4_request") {
		t.Fatalf("authorization %q", auth)
	}
	if !strings.Contains(auth, "SignedHeaders=host;x-amz-content-sha256;x-amz-date;x-amz-security-token") {
		t.Fatalf("signed headers missing from %q", auth)
	}

	// the signature must be stable for identical inputs
	req2, err := http.NewRequest(http.MethodGet,
		"https://lp-prod-protected.s3.us-west-2.amazonaws.com/EMITL2ARFL/EMIT_RFL_001.nc", nil)
	if err != nil {
		t.Fatal(err)
	}
	signV4(req2, creds, "us-west-2", when)
	if req2.Header.Get("Authorization") != auth {
		t.Fatal("signature differs between identical requests")
	}

	// without a session token the header and signed-header list drop it
	req3, err := http.NewRequest(http.MethodGet,
		"https://lp-prod-protected.s3.us-west-2.amazonaws.com/key.nc", nil)
	if err != nil {
		t.Fatal(err)
	}
	signV4(req3, &Credentials{AccessKeyID: "A", SecretAccessKey: "s"}, "us-west-2", when)
	if req3.Header.Get("x-amz-security-token") != "" {
		t.Fatal("security token set without session credentials")
	}
	if !strings.Contains(req3.Header.Get("Authorization"),
		"SignedHeaders=host;x-amz-content-sha256;x-amz-date,") {
		t.Fatalf("signed headers %q", req3.Header.Get("Authorization"))
	}
}
