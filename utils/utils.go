// Package utils provides utility functions for the application.
package utils

func ToPtr[T any](v T) *T {
	return &v
}

// Deref returns the pointed value or the zero value for nil.
func Deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}

// ShortPSID returns the last eight characters of a PSID, used as a
// display-name fallback when the profile cannot be fetched.
func ShortPSID(psid string) string {
	if len(psid) <= 8 {
		return psid
	}
	return psid[len(psid)-8:]
}
