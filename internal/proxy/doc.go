// Package proxy holds everything that decides which connection an attempt uses.
//
//   - ListSource loads the public proxy list file once.
//   - HealthTracker benches proxies after consecutive failures.
//   - Planner turns the list, the private proxy and the tracker into an
//     attempt plan of fixed length.
//   - Prober checks that list entries actually speak SOCKS5 or HTTP CONNECT.
//
// A tracker and a planner are created once per engine and shared by all of
// its requests; neither is a package-level singleton.
package proxy
