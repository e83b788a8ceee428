// Package poller periodically fetches the backend health snapshot over
// REST and feeds it through the collector as a system_health update.
// It is the backup signal when the live feed is down or quiet.
package poller
