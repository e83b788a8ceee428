// Package feed implements the real-time risk-intelligence feed core:
// a WebSocket client, a connection manager with a bounded linear-backoff
// reconnect policy, channel subscription, and dispatch of inbound frames
// to alert and data-update handlers.
//
// Each consumer constructs its own Manager; instances are independent
// and never share a socket. Failures are fail-soft: they surface through
// Status(), never as panics or errors thrown into handlers.
package feed
