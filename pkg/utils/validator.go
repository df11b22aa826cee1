package utils

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	flowKeyPattern = regexp.MustCompile(`^[A-Z][A-Z0-9_]{1,63}$`)
	controlChars   = regexp.MustCompile(`[\x00-\x1f\x7f]`)
)

// ValidateFlowKey checks that a workflow type key is an upper-case identifier such as BAOXIAO
func ValidateFlowKey(key string) error {
	if !flowKeyPattern.MatchString(key) {
		return fmt.Errorf("invalid flow key: %q", key)
	}
	return nil
}

// ValidateOperator checks the display name recorded as create_by/update_by
func ValidateOperator(operator string) error {
	operator = strings.TrimSpace(operator)
	if operator == "" {
		return fmt.Errorf("operator is required")
	}
	if len(operator) > 64 {
		return fmt.Errorf("operator is too long: %d characters", len(operator))
	}
	return nil
}

// ValidateAmount validates a claimed money amount
func ValidateAmount(amount float64) error {
	if amount < 0 {
		return fmt.Errorf("amount must not be negative: %.2f", amount)
	}
	return nil
}

// SanitizeString removes control characters from free-form remarks
func SanitizeString(s string) string {
	return controlChars.ReplaceAllString(s, "")
}
