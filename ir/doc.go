// Package ir defines the normalized intermediate representation of a native
// library surface.
//
// A Namespace holds records, enumerations, classes, interfaces, free
// functions, callback types and constants. Every type reference carries
// nullability, ownership transfer and arity metadata; everything downstream
// (type mapping, method resolution, generation) consumes only this model.
//
// The IR is produced elsewhere, typically by normalizing introspection data.
// Load decodes its JSON form, Validate checks structural invariants, and
// Lookup/Classify resolve type references, including qualified references
// into imported namespaces ("Other.Name").
package ir
