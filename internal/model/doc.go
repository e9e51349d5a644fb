// Package model defines the values that flow through a crawl.
//
//   - CrawlRequest: raw caller fields, pointers meaning "not set"
//   - CrawlOptions: the resolved, immutable per-request settings
//   - Attempt and AttemptPlan: where each attempt connects from
//   - AttemptReport and CrawlResult: what happened
//
// The types live apart from the crawler so report, database and the fetch
// clients can share them without import cycles. All of them encode to JSON
// for reports and the history database.
package model
