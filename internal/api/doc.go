// Package api exposes the operational HTTP interface of an ingestion run:
// health probes, Prometheus metrics, run status, record submission and
// read-only lookups against the link graph and inverted index.
package api
