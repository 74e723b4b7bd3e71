// Package config holds the crawler configuration: built-in defaults, the
// optional .linkscout file with per-site overrides, and validation.
//
// Values are layered from lowest to highest precedence: built-in defaults,
// the file's crawl block, the file's defaults block, the file's entry for the
// site, then flags and environment variables applied by the CLI.
package config
