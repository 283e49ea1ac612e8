package runner

// Test execution constants
const (
	// DefaultConcurrency runs test cases one at a time
	DefaultConcurrency = 1

	// MaxReasonableConcurrency is the threshold above which a warning is logged
	MaxReasonableConcurrency = 32

	// MaxChannelBuffer caps the work and result channel buffers
	MaxChannelBuffer = 100
)
