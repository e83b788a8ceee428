// Package api implements a REST client for the risk backend's control
// endpoints: the channel catalog and the system health snapshot.
//
// The live feed itself is WebSocket-only; this client covers the
// request/response surface around it.
package api
