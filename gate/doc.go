// Package gate maintains the set of known physical gates and their
// meter state.
//
// The Registry owns the gate map; all mutation goes through its locked
// operations. The reserved all-gates alias is a caller-side concept and
// is never registered here.
package gate
