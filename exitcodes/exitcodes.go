// Package exitcodes defines the exit codes used by progtest.
package exitcodes

// Exit code constants used by progtest:
//
// * Success (0): every selected test case passed
// * TestFailure (1): one or more test cases failed at some stage
// * RuntimeErr (2): the harness itself failed (build, unpack, discovery, bad config)
const (
	Success     = 0 // All tests pass
	TestFailure = 1 // Test failures
	RuntimeErr  = 2 // Build or setup errors
)
