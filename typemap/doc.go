// Package typemap converts IR type references into ABI descriptors for the
// marshaling runtime and surface types for generated Go code.
//
// It is the central policy point for ownership and nullability. The mapper
// classifies records as plain structs or boxed handles, derives enum widths
// from their declared storage, attaches type-check metadata to object and
// interface handles, and decides array length conventions. Plan extends
// Map to a whole method: it links length, closure and destroy parameters
// to the arguments they serve and rejects shapes that cannot be marshaled
// safely, so the generator can drop them one method at a time.
package typemap
