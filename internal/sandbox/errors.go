package sandbox

import "fmt"

// ConfigurationError marks a caller or setup mistake. Fatal, never retried.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Reason
}

// ProvisioningError marks a remote compute creation or reconnection
// failure. The original provider error is preserved as the cause.
type ProvisioningError struct {
	Op    string // create, reconnect
	Cause error
}

func (e *ProvisioningError) Error() string {
	return fmt.Sprintf("provisioning failed (%s): %v", e.Op, e.Cause)
}

func (e *ProvisioningError) Unwrap() error { return e.Cause }

// RestorationError marks a file-restore failure. Partial writes are not
// rolled back; restoration is idempotent and safe to retry.
type RestorationError struct {
	Path  string
	Cause error
}

func (e *RestorationError) Error() string {
	return fmt.Sprintf("restoration failed at %s: %v", e.Path, e.Cause)
}

func (e *RestorationError) Unwrap() error { return e.Cause }

// DevServerError marks a dev-server process that failed to bind its port.
// Warning-level: the sandbox may still be usable for other operations.
type DevServerError struct {
	Port  int
	Cause error
}

func (e *DevServerError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("dev server failed on port %d: %v", e.Port, e.Cause)
	}
	return fmt.Sprintf("dev server did not bind port %d", e.Port)
}

func (e *DevServerError) Unwrap() error { return e.Cause }
