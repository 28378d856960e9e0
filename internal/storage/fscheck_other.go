//go:build !darwin && !linux

package storage

// Mount types are not detectable here; every path reports as local.
func filesystemType(string) (string, error) { return "unknown", nil }
