//go:build linux || darwin

package sysmem

// NewEnv returns the platform's real Env implementation.
func NewEnv() Env {
	return NewUnixEnv()
}
