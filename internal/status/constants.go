// internal/status/constants.go
package status

// Device status block layout, as written by the mirror.
// These values define the protocol and MUST NOT be configurable.

// ---- BLOCK GEOMETRY ----

const (
	// SlotsPerDevice is the fixed number of registers per status block.
	SlotsPerDevice = 20

	SlotHealthCode     = 0
	SlotLastErrorCode  = 1
	SlotSecondsInError = 2

	// Slots 3..10 are reserved and written as zero.

	// SlotDeviceNameStart is the first of the name registers, which always
	// sit at the end of the block.
	SlotDeviceNameStart = 11
	SlotDeviceNameSlots = 8

	DeviceNameMaxChars = 2 * SlotDeviceNameSlots
)

// MaxSecondsInError caps the seconds counter; it never wraps.
const MaxSecondsInError = 65535

// ---- HEALTH CODES ----

const (
	HealthUnknown  uint16 = 0 // boot, or connected without a result yet
	HealthOK       uint16 = 1
	HealthError    uint16 = 2
	HealthStale    uint16 = 3 // no result within the stale window while polling
	HealthDisabled uint16 = 4 // line closed
)

// HealthText names a health code for display.
func HealthText(h uint16) string {
	switch h {
	case HealthUnknown:
		return "unknown"
	case HealthOK:
		return "ok"
	case HealthError:
		return "error"
	case HealthStale:
		return "stale"
	case HealthDisabled:
		return "disabled"
	}
	return "invalid"
}
