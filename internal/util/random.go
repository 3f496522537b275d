// Package util provides utility functions for the EnquiryBot application.
package util

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"time"
)

// GenerateRandomAlphaNumeric generates a random uppercase alphanumeric string
// of the specified length. Uses math/rand/v2; enquiry numbers are
// collision-resistant rather than cryptographic.
func GenerateRandomAlphaNumeric(length int) string {
	if length <= 0 {
		return ""
	}

	const chars = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	var builder strings.Builder
	builder.Grow(length)

	for i := 0; i < length; i++ {
		builder.WriteByte(chars[rand.IntN(len(chars))])
	}

	return builder.String()
}

// GenerateEnquiryNumber generates a human-readable enquiry number in the
// format "ENQ" + year + random suffix, e.g. "ENQ2026A7K3Q9".
func GenerateEnquiryNumber(now time.Time) string {
	return fmt.Sprintf("ENQ%d%s", now.Year(), GenerateRandomAlphaNumeric(6))
}
