// Package config loads Halo device configuration from YAML files.
//
// A configuration file names the device, its hub, the ordered credential
// list used for rotation, and optional tuning for the retry policy and
// the on-disk state and event log locations.
package config
