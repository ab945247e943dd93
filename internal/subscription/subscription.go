// Package subscription defines the entitlement taxonomy and the mapping
// from Paddle's billing statuses onto it.
package subscription

import "strings"

// Status is the closed entitlement taxonomy the client understands.
type Status string

const (
	StatusTrial    Status = "trial"
	StatusActive   Status = "active"
	StatusPastDue  Status = "past_due"
	StatusCanceled Status = "canceled"
	StatusExpired  Status = "expired"
)

// Normalize maps a raw Paddle subscription status onto the closed taxonomy.
// Total function: unrecognized or empty input maps to expired. Idempotent:
// its own outputs map to themselves, so a stored normalized status survives
// a second pass at read time ("trial" must not degrade to "expired").
func Normalize(raw string) Status {
	switch strings.ToLower(raw) {
	case "active":
		return StatusActive
	case "trialing", "trial":
		return StatusTrial
	case "past_due", "paused":
		return StatusPastDue
	case "canceled":
		return StatusCanceled
	default:
		return StatusExpired
	}
}
