// Package halolog provides structured event logging for the Halo device SDK.
//
// Every layer of the SDK (lifecycle manager, retry executor, twin
// reconciliation, transport) reports events through the Logger interface.
// Applications choose where events go:
//
//   - SlogAdapter: console output via log/slog, for development
//   - FileLogger: compact CBOR file format, for capture and later analysis
//   - MultiLogger: fan-out to several destinations
//   - NoopLogger: discard everything
//
// Captured files can be read back with Reader and inspected with the
// halo-log command.
package halolog
