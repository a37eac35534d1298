// Package types defines the entity, key, identifier-strategy and storage
// contracts used by the larder persistence context, together with its
// configuration and standard errors.
//
// Storage backends implement Storage (and optionally Transactor and
// Querier); user code implements Entity on plain structs or uses Record.
package types
