// Package config holds the fetcher's settings: attempt budget, backoff,
// proxy sources and health, profile root, fetch client and history storage.
// Values come from defaults, an optional .scrapling YAML file, SCRAPLING_*
// environment variables and finally CLI flags, in that order.
package config
