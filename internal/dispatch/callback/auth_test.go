package callback

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/regbridge/subtrack/internal/core/domain"
)

func TestAuthHeadersHMAC(t *testing.T) {
	body := []byte(`{"event":"x"}`)
	ep := &domain.Endpoint{ID: "ep-1", AuthMethod: domain.AuthHMAC, Secret: "topsecret"}

	headers, err := authHeaders(ep, body)
	if err != nil {
		t.Fatal(err)
	}

	mac := hmac.New(sha256.New, []byte("topsecret"))
	mac.Write(body)
	want := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	if headers[HeaderSignature] != want {
		t.Errorf("signature = %q, want %q", headers[HeaderSignature], want)
	}
}

func TestAuthHeadersBearer(t *testing.T) {
	ep := &domain.Endpoint{ID: "ep-1", AuthMethod: domain.AuthBearer, Token: "tok"}
	headers, err := authHeaders(ep, nil)
	if err != nil {
		t.Fatal(err)
	}
	if headers["Authorization"] != "Bearer tok" {
		t.Errorf("authorization = %q", headers["Authorization"])
	}
}

func TestAuthHeadersBasic(t *testing.T) {
	ep := &domain.Endpoint{ID: "ep-1", AuthMethod: domain.AuthBasic, Username: "u", Password: "p"}
	headers, err := authHeaders(ep, nil)
	if err != nil {
		t.Fatal(err)
	}
	// base64("u:p")
	if headers["Authorization"] != "Basic dTpw" {
		t.Errorf("authorization = %q", headers["Authorization"])
	}
}

func TestAuthHeadersAPIKeyDefaultName(t *testing.T) {
	ep := &domain.Endpoint{ID: "ep-1", AuthMethod: domain.AuthAPIKey, Token: "key-1"}
	headers, err := authHeaders(ep, nil)
	if err != nil {
		t.Fatal(err)
	}
	if headers["X-API-Key"] != "key-1" {
		t.Errorf("api key header = %q", headers["X-API-Key"])
	}
}

func TestAuthHeadersCustom(t *testing.T) {
	ep := &domain.Endpoint{
		ID: "ep-1", AuthMethod: domain.AuthCustom,
		Headers: map[string]string{"X-Custom": "v"},
	}
	headers, err := authHeaders(ep, nil)
	if err != nil {
		t.Fatal(err)
	}
	if headers["X-Custom"] != "v" {
		t.Errorf("custom header missing: %v", headers)
	}
}

func TestAuthHeadersMissingCredentials(t *testing.T) {
	cases := []*domain.Endpoint{
		{ID: "a", AuthMethod: domain.AuthHMAC},
		{ID: "b", AuthMethod: domain.AuthBearer},
		{ID: "c", AuthMethod: domain.AuthBasic},
		{ID: "d", AuthMethod: domain.AuthAPIKey},
		{ID: "e", AuthMethod: "kerberos"},
	}
	for _, ep := range cases {
		if _, err := authHeaders(ep, nil); err == nil {
			t.Errorf("endpoint %s: expected error", ep.ID)
		}
	}
}
