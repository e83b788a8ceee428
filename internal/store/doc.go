// Package store persists normalized alerts and data updates to
// PostgreSQL.
//
// Writers:
//   - Alert writer (risk_alerts table)
//   - Update writer (feed_updates table, payload stored as JSONB)
//
// Both writers batch rows and use append-only semantics (never update,
// only insert). Duplicate rows are skipped with ON CONFLICT DO NOTHING.
package store
