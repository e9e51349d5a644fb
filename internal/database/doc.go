// Package database keeps a history of crawl results in SQLite
// (modernc.org/sqlite, no cgo). Each row holds the outcome, the attempt
// reports as JSON and a SHA3-256 hash of the page body, so repeated fetches
// of the same URL can be compared without keeping every body around.
package database
