// Package main provides the entry point for the linkscout CLI.
//
// linkscout crawls one website within a page and time budget and writes the
// ordered list of discovered URLs to a JSON artifact for downstream scrapers.
//
// Usage:
//
//	linkscout crawl https://example.com/
//	linkscout crawl --all-sites -c sites.yaml
//
// See --help for all available options.
package main

func main() {
	Execute()
}
