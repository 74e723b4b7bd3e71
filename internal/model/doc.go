// Package model defines the data structures shared across linkscout.
//
// The central type is URLRecord, the per-URL entry owned by the frontier.
// Its State field follows a strict transition graph:
//
//	Pending -> InFlight -> Visited
//	                    -> Pending (retry)
//	                    -> FailedPermanent
//
// CrawlSummary describes a finished crawl session and Checkpoint carries the
// frontier state that is persisted so an interrupted crawl can resume.
package model
