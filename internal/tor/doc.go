// Package tor runs an embedded Tor daemon (github.com/nao1215/tornago) and
// exposes its SOCKS listener as a proxy URL. The fetch CLI uses it as the
// private proxy when started with --tor.
package tor
