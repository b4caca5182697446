/*
Package codec converts domain values to the byte strings stored in key-value
maps and back.

A Binding is a codec for one Go type. Plain bindings (String, Int64, Float64
and friends) produce byte strings whose unsigned lexicographic order matches
the natural order of the values, which is what range scans over property
indices rely on.

Compressed bindings (CompressedInt64, CompressedUint64) trade fixed width for a
length-prefixed layout that is much shorter for small, monotone ids. They keep
the ordering property, but their layout is not the plain layout: a value
written with a compressed binding must be read with the same binding. Nothing
in this package tries to detect which encoding a byte string used, so pick one
per call site and stick with it.

IDSet is a compact sparse set of 64-bit ids, used to materialize the operand of
set operations over entity iterables.
*/
package codec
