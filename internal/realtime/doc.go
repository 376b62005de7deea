// Package realtime owns the single persistent server connection used for
// game messaging.
//
// It multiplexes publish/subscribe traffic for named destinations over one
// WebSocket, tracks the connection state machine (Disconnected, Connecting,
// Connected, Reconnecting), and recovers from transport drops with a fixed
// retry delay so session-level code never touches the socket directly.
package realtime
