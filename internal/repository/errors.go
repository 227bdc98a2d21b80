package repository

import "strings"

// isUniqueViolation recognizes unique constraint errors of the supported
// drivers.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()

	// PostgreSQL, SQLite
	if strings.Contains(errStr, "duplicate key") || strings.Contains(errStr, "UNIQUE constraint") {
		return true
	}
	// MySQL
	return strings.Contains(errStr, "Duplicate entry")
}

func clampLimit(limit, def, max int) int {
	if limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}
