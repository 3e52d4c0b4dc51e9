// Package cell provides Cell, a single-value container that tracks an
// asynchronous load and exposes a synchronous view once it resolves.
//
// A Cell moves through Uninitialized, Loading, Ready and Resetting. Readers
// observe either the zero value with a Loading state or a fully resolved
// value; never a partial one. There is no cancellation: a load that is no
// longer wanted still runs to completion and its result is dropped.
package cell
