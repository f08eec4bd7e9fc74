package router

import "fmt"

// ErrMessageExpired is returned synchronously by Route when the message
// is already past its own expiry; such messages are never transmitted or
// queued.
var ErrMessageExpired = fmt.Errorf("router: message expired before it could be routed")

// ErrShutdownInProgress is returned by operations attempted after
// Shutdown has started.
var ErrShutdownInProgress = fmt.Errorf("router: shutdown in progress")

// ProviderRuntimeError wraps a failure encountered while resolving or
// registering a multicast provider's address (addMulticastReceiver /
// removeMulticastReceiver).
type ProviderRuntimeError struct {
	Cause error
}

func (e *ProviderRuntimeError) Error() string {
	return fmt.Sprintf("router: provider runtime error: %v", e.Cause)
}

func (e *ProviderRuntimeError) Unwrap() error { return e.Cause }
