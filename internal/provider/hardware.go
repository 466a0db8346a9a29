package provider

import "runtime"

// InferenceThreads picks the thread count handed to a local runtime: every
// core but one, so the server itself stays responsive.
func InferenceThreads() int {
	n := runtime.NumCPU() - 1
	if n < 1 {
		n = 1
	}
	return n
}
