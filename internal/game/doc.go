// Package game drives one two-player quiz session over the realtime
// connection. The orchestrator subscribes to the session broadcast topic and
// the participant's private queue, interprets the server's protocol events,
// and exposes the current round, question, submission, and result view to
// callers.
//
// The orchestrator never touches the socket directly; everything flows
// through the Publisher contract, which *realtime.Manager satisfies.
package game
