// internal/writer/types.go
package writer

import "github.com/tamzrod/hsc-probe/internal/poller"

// Plan is the fully-built mirror plan.
type Plan struct {
	Endpoint string
	UnitID   uint8
	Offsets  map[int]uint16 // per-FC offset deltas; missing FC => 0

	Status *StatusPlan // nil => status block disabled
}

// StatusPlan places the device status block on the mirror endpoint.
type StatusPlan struct {
	BaseSlot   uint16
	DeviceName string
}

// Writer mirrors transaction results into a target.
type Writer interface {
	Write(ev poller.Event) error
}
