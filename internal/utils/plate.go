package utils

import (
	"regexp"
	"strings"
)

var platePattern = regexp.MustCompile(`^[A-Za-z0-9]{2,10}$`)

// NormalizePlate trims surrounding whitespace and uppercases a plate string.
// Only the normalized form is ever stored or compared.
func NormalizePlate(plate string) string {
	return strings.ToUpper(strings.TrimSpace(plate))
}

// IsValidPlate reports whether the raw plate passes the validity gate:
// 2 to 10 alphanumeric characters, checked before normalization uppercases it.
func IsValidPlate(plate string) bool {
	return platePattern.MatchString(strings.TrimSpace(plate))
}
