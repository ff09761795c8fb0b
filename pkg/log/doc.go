// Package log provides structured protocol capture for duosync devices.
//
// It is separate from operational logging (slog). Operational logs say what
// the device is doing; the protocol capture is a machine-readable trace of
// every sync exchange, sheet decision, role decision and state change, so a
// session between two devices can be reconstructed afterwards.
//
// # Basic Usage
//
//	// Development: mirror events to the console
//	cfg.ProtocolLogger = log.NewSlogAdapter(slog.Default())
//
//	// Field capture: append to a binary file
//	fl, _ := log.NewFileLogger("/var/log/duosync/left.dlog")
//	cfg.ProtocolLogger = log.NewMultiLogger(log.NewSlogAdapter(slog.Default()), fl)
//
// # File Format
//
// Capture files are a concatenation of CBOR-encoded Event values with
// integer keys (.dlog). The duo-log tool views and summarizes them.
package log
