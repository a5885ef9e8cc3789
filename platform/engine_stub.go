//go:build !linux && !darwin

package platform

import "context"

func StartEngine(context.Context) error {
	return ErrUnsupported
}

// EngineSocketAccessible defers to the engine ping on unknown platforms.
func EngineSocketAccessible() bool { return true }
