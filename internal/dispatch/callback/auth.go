package callback

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"github.com/regbridge/subtrack/internal/core/domain"
)

// Header names on every outbound callback.
const (
	HeaderEventType  = "X-Callback-Event-Type"
	HeaderEventID    = "X-Callback-Event-ID"
	HeaderDeliveryID = "X-Callback-Delivery-ID"
	HeaderSignature  = "X-Callback-Signature"
)

// authHeaders returns the auth header(s) for an endpoint's configured
// method. body is the exact payload bytes being signed for HMAC.
func authHeaders(ep *domain.Endpoint, body []byte) (map[string]string, error) {
	headers := make(map[string]string)

	switch ep.AuthMethod {
	case domain.AuthNone, "":

	case domain.AuthHMAC:
		if ep.Secret == "" {
			return nil, fmt.Errorf("endpoint %s: hmac auth without secret", ep.ID)
		}
		mac := hmac.New(sha256.New, []byte(ep.Secret))
		mac.Write(body)
		headers[HeaderSignature] = "sha256=" + hex.EncodeToString(mac.Sum(nil))

	case domain.AuthBearer:
		if ep.Token == "" {
			return nil, fmt.Errorf("endpoint %s: bearer auth without token", ep.ID)
		}
		headers["Authorization"] = "Bearer " + ep.Token

	case domain.AuthBasic:
		if ep.Username == "" {
			return nil, fmt.Errorf("endpoint %s: basic auth without username", ep.ID)
		}
		cred := base64.StdEncoding.EncodeToString([]byte(ep.Username + ":" + ep.Password))
		headers["Authorization"] = "Basic " + cred

	case domain.AuthAPIKey:
		name := ep.APIKeyName
		if name == "" {
			name = "X-API-Key"
		}
		if ep.Token == "" {
			return nil, fmt.Errorf("endpoint %s: api_key auth without token", ep.ID)
		}
		headers[name] = ep.Token

	case domain.AuthCustom:
		for k, v := range ep.Headers {
			headers[k] = v
		}

	default:
		return nil, fmt.Errorf("endpoint %s: unknown auth method %q", ep.ID, ep.AuthMethod)
	}

	return headers, nil
}
