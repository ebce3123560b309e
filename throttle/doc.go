// Package throttle enforces per-job-type rate limits and concurrency
// caps at claim time.
//
// Job types are free-form strings ("photos.scan", "photos.export")
// registered with the handler registry. Use [Config] to cap how many
// jobs of a type run at once or how fast new ones may start:
//
//	throttle.Config{
//	    Type:           "photos.export",
//	    MaxConcurrency: 2,      // max 2 concurrent exports
//	    RateLimit:      5,      // max 5 exports/s started
//	    RateBurst:      10,     // allow bursts up to 10
//	}
//
// [Limiter] combines a token-bucket rate limiter (golang.org/x/time/rate)
// with an active-count gate:
//
//	l := throttle.NewLimiter(configs...)
//	if l.Acquire(jobType) {
//	    defer l.Release(jobType)
//	    // process the job
//	}
//
// Types without a [Config] have no limits beyond the pool-wide
// concurrency.
package throttle
