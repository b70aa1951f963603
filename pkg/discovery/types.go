package discovery

import (
	"errors"
	"time"

	"github.com/halo-iot/halo-go/pkg/version"
)

// Service discovery constants.
const (
	// ServiceTypeHub is the DNS-SD service type hubs advertise.
	ServiceTypeHub = "_halo-hub._tcp"

	// Domain is the mDNS domain.
	Domain = "local."

	// DefaultPort is the default hub listen port.
	DefaultPort = 8883

	// MaxInstanceNameLen is the maximum mDNS instance name length.
	MaxInstanceNameLen = 63
)

// TXT record keys.
const (
	// TXTKeyHubID carries the hub identifier.
	TXTKeyHubID = "id"

	// TXTKeyAPIVersion carries the highest supported API version as
	// "major.minor".
	TXTKeyAPIVersion = "api"

	// TXTKeyTier carries the optional deployment tier.
	TXTKeyTier = "tier"
)

// Discovery errors.
var (
	// ErrMissingRequired indicates a required TXT record is absent.
	ErrMissingRequired = errors.New("missing required TXT record")

	// ErrInvalidTXTRecord indicates a TXT record failed to parse.
	ErrInvalidTXTRecord = errors.New("invalid TXT record")

	// ErrInstanceNameTooLong indicates an instance name exceeds the
	// mDNS limit.
	ErrInstanceNameTooLong = errors.New("instance name too long")

	// ErrNotFound indicates no matching service was found.
	ErrNotFound = errors.New("service not found")
)

// HubInfo describes a hub for advertisement.
type HubInfo struct {
	// HubID is the hub identifier, used as the instance name.
	HubID string

	// APIVersion is the highest API version the hub supports.
	APIVersion version.APIVersion

	// Tier is the optional deployment tier ("production", "staging").
	Tier string

	// Port is the hub listen port. Zero means DefaultPort.
	Port uint16
}

// HubService is a hub observed while browsing.
type HubService struct {
	// InstanceName is the mDNS instance name.
	InstanceName string

	// Host is the advertised hostname.
	Host string

	// Port is the advertised port.
	Port uint16

	// Addresses are the IP addresses observed so far, aggregated
	// across interfaces.
	Addresses []string

	// HubID is the hub identifier from the TXT records.
	HubID string

	// APIVersion is the highest API version the hub supports.
	APIVersion version.APIVersion

	// Tier is the deployment tier, empty when not advertised.
	Tier string
}

// Compatible reports whether this library can talk to the hub.
func (s *HubService) Compatible() bool {
	current, err := version.Parse(version.Current)
	if err != nil {
		return false
	}
	return current.Compatible(s.APIVersion)
}

// AdvertiserConfig configures an advertiser.
type AdvertiserConfig struct {
	// Interface restricts advertising to one named interface.
	// Empty means all interfaces.
	Interface string

	// TTL is the record time-to-live. Zero uses the library default.
	TTL time.Duration
}

// BrowserConfig configures a browser.
type BrowserConfig struct {
	// Interface restricts browsing to one named interface.
	// Empty means all interfaces.
	Interface string
}
