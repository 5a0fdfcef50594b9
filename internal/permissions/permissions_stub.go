//go:build !darwin

package permissions

// CheckMicrophone reports Authorized; other platforms have no permission prompt.
func CheckMicrophone() Status {
	return Authorized
}

// EnsureMicrophone is a no-op on non-macOS platforms.
func EnsureMicrophone() error {
	return nil
}
