//go:build !linux && !darwin

package sysmetrics

// Sample is not supported on this platform
func Sample() (Usage, error) {
	return Usage{}, ErrUnsupported
}
