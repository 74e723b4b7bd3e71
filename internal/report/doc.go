// Package report writes crawl results.
//
// The URL artifact is the crawler's deliverable: a JSON document holding the
// ordered, deduplicated list of visited URLs. WriteURLs replaces it atomically
// so a crash mid-write leaves the previous artifact intact, and LoadURLs reads
// it back when a crawl is resumed without a stored checkpoint.
//
// Summary writers render a CrawlSummary for people:
//   - SimpleWriter: plain text for the terminal
//   - MarkdownWriter: tables and a mermaid chart for sharing
//   - JSONWriter: the summary as JSON for other tools
//
// All of them implement the Writer interface.
package report
