// Package types defines the queue entry model, the optional field type,
// configuration, and the standard errors shared by the casebuffer packages.
//
// An Entry is one buffered case mutation. The set of entry variants is
// closed: InsertCase, UpdateCase and DeleteCase. Everything downstream of
// the codec switches on the concrete variant, never on a free-form string.
package types
