// Package store persists crawl checkpoints and session history.
//
// A checkpoint is the full frontier of one site, saved periodically while a
// crawl runs so an interrupted crawl can be resumed. Session history records
// the summary of every finished crawl and backs the history command.
//
// Three backends implement Store:
//   - SQLite (default): a single file under the XDG data directory
//   - Postgres: shared history for several machines
//   - Redis: checkpoints and history as JSON values with an optional TTL
//
// Rows and keys are indexed by SiteKey, a fixed-length digest of the site
// host, so arbitrary hosts never need escaping.
package store
