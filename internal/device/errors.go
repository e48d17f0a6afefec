package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, device.ErrNoDevices) {
//	    // no device could be leased right now
//	}
var (
	// ErrNotFound is returned when a device ID or serial does not exist.
	ErrNotFound = errors.New("device: not found")

	// ErrExists is returned when creating a device whose ID or serial already exists.
	ErrExists = errors.New("device: already exists")

	// ErrNoDevices is returned by the pool when no online, enabled device
	// is available for leasing.
	ErrNoDevices = errors.New("device: no devices available")

	// ErrNotLeasable is returned when a lease attempt targets a device
	// that is no longer online and enabled.
	ErrNotLeasable = errors.New("device: not leasable")

	// ErrAgentNotFound is returned when an agent ID does not exist.
	ErrAgentNotFound = errors.New("device: agent not found")

	// ErrPairingRejected is returned when an agent registration carries
	// a wrong pairing code.
	ErrPairingRejected = errors.New("device: pairing rejected")
)
