// Package discovery implements local-network hub discovery for Halo
// devices.
//
// Hubs advertise a DNS-SD service of type "_halo-hub._tcp" with TXT
// records carrying the hub identity and supported API version. Devices
// on networks without a provisioned hub hostname browse for these
// advertisements to locate a hub before their first connection.
//
// # Service Advertisement
//
// A hub advertises one service instance named after its hub ID. TXT
// records carry:
//
//	id   - hub identifier (required)
//	api  - highest supported API version (required)
//	tier - deployment tier, e.g. "production" (optional)
//
// # Browsing
//
// Browsing aggregates responses by instance name: addresses observed on
// multiple interfaces are merged into a single service entry, and
// entries disappear when their last address is withdrawn.
package discovery
