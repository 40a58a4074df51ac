// Package registry provides the central "glue" for the plugin system.
//
// The Registry is responsible for storing mappings between the string keys
// used in model manifests (e.g., "payment.PaymentRequestInfo") and the actual
// compiled Go factories that produce those types. It is populated once at
// startup by every compiled-in bundle and is read-only afterwards.
//
// Registration alone does not make a type reachable: a type only becomes
// resolvable once a manifest found at a module location exports it into an
// isolated namespace (see package modspace). Types flagged Shared form the
// host's own dependency graph and are visible to every namespace through its
// parent.
package registry
