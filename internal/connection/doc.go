// Package connection owns the outbound WebSocket link to the remote matcher.
//
// The Supervisor:
//   - Runs one Session at a time (Disconnected -> Connecting -> Connected -> Disconnected)
//   - Bounds each connect attempt by ConnectTimeout
//   - Retries on a fixed ReconnectInterval, one attempt in flight at a time
//   - Delivers session events to a Handler from a per-session pump goroutine
//
// It knows nothing about message content.
package connection
