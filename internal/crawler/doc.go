// Package crawler runs a crawl session over a frontier.
//
// # Architecture
//
// A Session owns one frontier and a small pool of workers. Each worker loops:
//
//  1. stop if the session is cancelled or the page budget is spent
//  2. reserve a budget slot and take the next eligible URL
//  3. wait for the pacer
//  4. fetch the page
//  5. on success discover its links and mark it visited, on failure let the
//     retry policy decide between a backoff and a permanent failure
//
// When nothing is eligible but URLs are still pending or in flight, the
// worker sleeps until the soonest backoff ends (capped by the idle wait)
// and tries again. The session ends when every worker has exited.
//
// # Budget
//
// A slot is reserved before a URL is taken and committed only after a
// successful fetch, so the number of visited pages never exceeds MaxPages
// even with several workers in flight.
//
// # Cancellation
//
// Cancelling the context stops workers from taking new work. Fetches that
// already started run to completion on a detached context bounded by the
// fetch timeout. A URL taken but not yet fetched is released back to Pending.
//
// # Usage
//
//	s := crawler.NewSession(f, fetcher, pacer, crawler.WithMaxPages(100))
//	summary, err := s.Run(ctx, "https://example.com/")
package crawler
