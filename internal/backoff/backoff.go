// Package backoff computes retry and poll delays for ledger interactions.
package backoff

import (
	"math"
	"math/rand"
)

// Policy names accepted by Compute.
const (
	PolicyFixed          = "fixed"
	PolicyLinear         = "linear"
	PolicyExponential    = "exponential"
	PolicyExpEqualJitter = "exp_equal_jitter"
	PolicyExpFullJitter  = "exp_full_jitter"
)

// Compute returns a delay in seconds for the given attempt (>= 0) under the
// named policy. Unknown policies fall back to full-jitter exponential.
func Compute(policy string, baseSeconds, maxSeconds, attempt int, rng *rand.Rand) int {
	if attempt < 0 {
		attempt = 0
	}
	if baseSeconds <= 0 {
		baseSeconds = 1
	}
	if maxSeconds <= 0 {
		maxSeconds = baseSeconds
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	// The exponential ceiling is computed in float64 and clamped before the
	// int conversion: for large attempt counts base*2^attempt overflows int.
	ceil := maxSeconds
	if f := float64(baseSeconds) * math.Pow(2, float64(attempt)); f < float64(maxSeconds) {
		ceil = int(f)
	}
	switch policy {
	case PolicyFixed:
		return min(baseSeconds, maxSeconds)
	case PolicyLinear:
		if attempt > maxSeconds/baseSeconds {
			return maxSeconds
		}
		return min(baseSeconds*max(1, attempt), maxSeconds)
	case PolicyExponential:
		return ceil
	case PolicyExpEqualJitter:
		half := ceil / 2
		return half + rng.Intn(half+1)
	default: // exp_full_jitter
		if ceil <= 0 {
			return 0
		}
		return rng.Intn(ceil + 1)
	}
}
