// Package testutil provides test helpers and assertion utilities shared
// across this module's test suites.
//
// This is an internal package and is not part of the public API. It offers
// helpers to reduce boilerplate and provide consistent assertion patterns;
// no other package in this module imports it.
//
// # Assertion Helpers
//
// The package provides lightweight assertion functions that fail the test
// immediately on mismatch:
//
//   - [AssertNoError] — fails if err is non-nil
//   - [AssertError] — fails if err is nil
//   - [AssertEqual] — performs deep equality comparison
//   - [AssertContains] — checks string containment
//
// Example:
//
//	result, err := dispatcher.Execute(ctx, req)
//	testutil.AssertNoError(t, err)
//	testutil.AssertContains(t, result.Error, "validation")
//
// # Stream Collector
//
// [CollectStream] drains an iter.Seq2[T, error] iterator into a slice,
// stopping on the first error. This is useful for testing streaming
// interfaces such as the orchestrator's node stream or C3's event feed.
package testutil
