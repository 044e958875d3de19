// Package internal documents the input service internals.
//
// The internal tree is organized by responsibility:
// - api: HTTP handlers, middleware, and routing
// - purl, ingest: event identifier validation, archive bundling, graph assembly
// - domain: catalog entities and status rules
// - storage: database access and repositories (pgx + Postgres)
// - reconcile, jobs: the status sweeper and its background scheduling
// - rpc: message-bus envelopes, registry, and kafka bridge
// - config, metrics, telemetry: shared infrastructure
//
// Code in internal/ is not meant for external import.
package internal
