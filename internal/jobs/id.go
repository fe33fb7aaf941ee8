// Package jobs provides identifiers for render jobs.
package jobs

import "github.com/google/uuid"

// GenerateID creates a new random job ID with the given prefix.
// The prefix should include a trailing dash, e.g. "render-", "run-".
func GenerateID(prefix string) string {
	return prefix + uuid.NewString()
}
