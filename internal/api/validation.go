package api

import (
	"fmt"
	"regexp"
)

var (
	// labIDPattern matches valid lab IDs: lowercase letters, numbers, hyphens
	labIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*[a-z0-9]$`)

	// instanceIDPattern matches the shortened UUIDs the manager assigns
	instanceIDPattern = regexp.MustCompile(`^[a-f0-9-]{8,36}$`)
)

// validateLabID validates a catalog lab identifier from the URL path
func validateLabID(id string) error {
	if id == "" {
		return fmt.Errorf("lab id is required")
	}
	if len(id) < 2 {
		return fmt.Errorf("lab id must be at least 2 characters")
	}
	if len(id) > 64 {
		return fmt.Errorf("lab id must not exceed 64 characters")
	}
	if !labIDPattern.MatchString(id) {
		return fmt.Errorf("lab id must contain only lowercase letters, numbers, and hyphens, and cannot start or end with a hyphen")
	}
	return nil
}

// validateInstanceID validates an instance identifier from the URL path
func validateInstanceID(id string) error {
	if id == "" {
		return fmt.Errorf("instance id is required")
	}
	if !instanceIDPattern.MatchString(id) {
		return fmt.Errorf("invalid instance id format")
	}
	return nil
}

// validateTail validates the logs tail query parameter
func validateTail(tail int) error {
	if tail < 0 {
		return fmt.Errorf("tail must be non-negative")
	}
	if tail > 10000 {
		return fmt.Errorf("tail must not exceed 10000")
	}
	return nil
}
