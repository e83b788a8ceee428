// Package model defines the domain types shared across the riskfeed
// components: normalized alerts, the closed set of feed message kinds,
// channel catalog entries, and persisted update records.
package model
