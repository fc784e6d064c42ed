// Package api exposes the ledger over HTTP: execute and query endpoints,
// a health check and the Prometheus scrape endpoint.
package api
