// internal/status/snapshot.go
package status

import "errors"

// Snapshot is the device-level health the tracker publishes.
// It contains no memory of the past beyond current state.
type Snapshot struct {
	Health         uint16 `json:"health"`
	LastErrorCode  uint16 `json:"lastErrorCode"`
	SecondsInError uint16 `json:"secondsInError"`
}

// ErrorCode extracts a best-effort uint16 code from an error without
// assuming concrete types. Errors that expose no code map to 1.
func ErrorCode(err error) uint16 {
	if err == nil {
		return 0
	}

	type coderA interface{ Code() uint16 }
	type coderB interface{ ErrorCode() uint16 }

	var a coderA
	if errors.As(err, &a) {
		return a.Code()
	}
	var b coderB
	if errors.As(err, &b) {
		return b.ErrorCode()
	}
	return 1
}
