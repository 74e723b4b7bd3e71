// Package pipeline runs a crawl and everything that happens after it.
//
// A Pipeline executes Steps in order over a Run: the crawl itself, then the
// finalize steps that write the URL artifact, save the checkpoint and the
// session history, publish the URLs and print the summary. Steps that
// implement Finalizer still run after the context is cancelled, with a
// detached context, so an interrupted crawl keeps its partial results.
//
// BatchProcessor crawls several sites concurrently, one pipeline per site,
// with the number of simultaneous crawls bounded by errgroup.
package pipeline
