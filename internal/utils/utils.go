package utils

// Ptr returns a pointer to v. Useful for optional literal fields.
func Ptr[T any](v T) *T { return &v }
