// Package browser implements fetch.Client with Chromium driven by go-rod.
// Pages are created through go-rod/stealth, the main document status is
// taken from network events and wait_selector_state is evaluated in the page.
package browser
