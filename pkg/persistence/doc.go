// Package persistence provides runtime state persistence for Halo devices.
//
// This package handles the JSON serialization of runtime state (the twin
// version watermark, the credential rotation position) that must survive
// device restarts. Event logs are handled separately by the halolog
// package's FileLogger.
package persistence
