// Package fetch defines the contract between the crawl engine and the client
// that actually renders pages.
//
// A Client receives an Args map. Which keys may appear in it is decided once,
// when the engine is built: Negotiate asks the client for the parameters it
// accepts and freezes the answer into a Capabilities value. Composer then
// builds every attempt's Args from that value, so a client never sees a
// parameter it did not announce.
//
// Clients report failures as *Error with an ErrorKind. Classify also
// understands untyped errors, which matters for the geo-IP case: a client
// that only returns vendor error text still triggers the one-shot retry
// without geoip in Composer.Call.
package fetch
