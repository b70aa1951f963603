package credential

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/url"
	"time"
)

// Credential identifies a device to the hub with a shared access key.
type Credential struct {
	// DeviceID is the device identifier registered with the hub.
	DeviceID string

	// HubHost is the hub hostname (e.g. "acme.halo-hub.example.com").
	HubHost string

	// Key is the base64-encoded shared access key.
	Key string

	// Label names the credential for logs (e.g. "primary", "secondary").
	// Never included in tokens.
	Label string
}

// Valid reports whether the credential has the fields required to
// attempt a connection.
func (c Credential) Valid() bool {
	return c.DeviceID != "" && c.HubHost != "" && c.Key != ""
}

// ResourceURI returns the hub resource the credential grants access to.
func (c Credential) ResourceURI() string {
	return fmt.Sprintf("%s/devices/%s", c.HubHost, url.PathEscape(c.DeviceID))
}

// Token renders a shared-access-signature token valid until expiry.
// The signature is HMAC-SHA256 over "<escaped resource URI>\n<unix expiry>"
// with the decoded key.
func (c Credential) Token(expiry time.Time) (string, error) {
	key, err := base64.StdEncoding.DecodeString(c.Key)
	if err != nil {
		return "", fmt.Errorf("decode shared access key: %w", err)
	}

	resource := url.QueryEscape(c.ResourceURI())
	deadline := expiry.Unix()

	mac := hmac.New(sha256.New, key)
	fmt.Fprintf(mac, "%s\n%d", resource, deadline)
	signature := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	return fmt.Sprintf("SharedAccessSignature sr=%s&sig=%s&se=%d",
		resource, url.QueryEscape(signature), deadline), nil
}
