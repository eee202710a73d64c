// Package eval resolves a parsed recipient query into an ordered,
// duplicate-free list of nation identifiers.
//
// A group is folded left to right: each command resolves its payload (a
// nested group or a primitive) and combines it with the running list via its
// action. Duplicates may appear mid-fold; they are removed once, keeping the
// first occurrence, when the top-level evaluation finishes.
package eval
