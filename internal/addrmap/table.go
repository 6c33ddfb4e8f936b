// internal/addrmap/table.go
package addrmap

// MAIN board (H2TECH upstream) address table.
// These values define the device contract and MUST NOT be derived at runtime.

// ---- BLOCK NAMES ----

const (
	BlockOnOff      = "onoff"
	BlockDoor       = "door"
	BlockAlarms     = "alarms"
	BlockCmdOnOff   = "cmd_onoff"
	BlockCurrents   = "currents"
	BlockMainInputs = "mainio_inputs"
	BlockMainCoils  = "mainio_coils"
	BlockMainRegs   = "mainio_registers"
)

// ---- COIL NAMES ----

const (
	CoilDoorOpen1  = "door_open_1"
	CoilDoorOpen2  = "door_open_2"
	CoilVB8        = "vb_8"
	CoilVB9        = "vb_9"
	CoilVB10       = "vb_10"
	CoilVB11       = "vb_11"
	CoilVB12       = "vb_12"
	CoilInvalid899 = "invalid_899"
	CoilInvalid900 = "invalid_900"
)

// ExceptionIllegalDataAddress is the documented answer for unmapped addresses.
const ExceptionIllegalDataAddress byte = 0x02

// MainOutputs is the number of MAIN board coil outputs addressable by toggle.
const MainOutputs = 8

// Default returns the MAIN board table. Every call returns a fresh Map;
// callers build it once at startup and share it read-only.
func Default() *Map {
	return &Map{
		blocks: []Block{
			{
				// 1x0821~0836
				Name: BlockOnOff, Title: "ON/OFF status 1~16",
				Function: ReadDiscreteInputs, Start: 820, Count: 16,
				Labels: []string{
					"Door1", "Door2", "HPSB Fan", "HPSB CH2", "HPSB CH3",
					"LPSB1 CH1", "LPSB1 CH2", "LPSB1 CH3",
					"LPSB2 CH1", "LPSB2 CH2", "LPSB2 CH3",
					"LPSB3 CH1", "LPSB3 CH2", "LPSB3 CH3",
					"Reserved 15", "Reserved 16",
				},
			},
			{
				// 1x0853~0860
				Name: BlockDoor, Title: "Door sensors",
				Function: ReadDiscreteInputs, Start: 852, Count: 8,
				Labels: []string{
					"Door MAG 1", "Door MAG 2", "Door MAG 3 (unused)", "Door MAG 4 (unused)",
					"Door BTN 1", "Door BTN 2", "Door BTN 3 (unused)", "Door BTN 4 (unused)",
				},
			},
			{
				// 1x0869~0880
				Name: BlockAlarms, Title: "Alarms 1~12",
				Function: ReadDiscreteInputs, Start: 868, Count: 12,
				Labels: []string{
					"HPSB comm", "LPSB comm (any)", "SHTC3 fail", "Door sensor fault",
					"HPSB OC1", "HPSB OC2", "HPSB OC3",
					"LPSB1 OC (any)", "LPSB2 OC (any)", "LPSB3 OC (any)",
					"PC link fail", "Downstream write fail",
				},
			},
			{
				// 1x0885~0891
				Name: BlockCmdOnOff, Title: "Command ON/OFF 1~7",
				Function: ReadDiscreteInputs, Start: 884, Count: 7,
				Labels: []string{"CMD 1", "CMD 2", "CMD 3", "CMD 4", "CMD 5", "CMD 6", "CMD 7"},
			},
			{
				// 4x2001~2014, only this window is served
				Name: BlockCurrents, Title: "Currents",
				Function: ReadHoldingRegisters, Start: 2000, Count: 14,
				Labels: []string{
					"HPSB P1", "HPSB P2", "HPSB P3",
					"LPSB1 P1", "LPSB1 P2", "LPSB1 P3",
					"LPSB2 P1", "LPSB2 P2", "LPSB2 P3",
					"LPSB3 P1", "LPSB3 P2", "LPSB3 P3",
					"Door1", "Door2",
				},
			},

			// MAIN board local I/O image (not polled)
			{
				Name: BlockMainInputs, Title: "MAIN board inputs",
				Function: ReadDiscreteInputs, Start: 0, Count: 8,
			},
			{
				Name: BlockMainCoils, Title: "MAIN board outputs",
				Function: ReadCoils, Start: 0, Count: MainOutputs,
			},
			{
				Name: BlockMainRegs, Title: "MAIN board registers",
				Function: ReadHoldingRegisters, Start: 0, Count: 4,
			},
		},
		coils: []Coil{
			// 1x0892~0896 virtual buttons
			{Name: CoilVB8, Title: "VB ON/OFF 8", Address: 891},
			{Name: CoilVB9, Title: "VB ON/OFF 9", Address: 892},
			{Name: CoilVB10, Title: "VB ON/OFF 10", Address: 893},
			{Name: CoilVB11, Title: "VB ON/OFF 11", Address: 894},
			{Name: CoilVB12, Title: "VB ON/OFF 12", Address: 895},

			// 1x0897 / 1x0898 door open pulse
			{Name: CoilDoorOpen1, Title: "Door open 1", Address: 896},
			{Name: CoilDoorOpen2, Title: "Door open 2", Address: 897},

			// 1x0899 / 1x0900 are not in the device table
			{Name: CoilInvalid899, Title: "Invalid 1x0899", Address: 898, ExpectException: ExceptionIllegalDataAddress},
			{Name: CoilInvalid900, Title: "Invalid 1x0900", Address: 899, ExpectException: ExceptionIllegalDataAddress},
		},
		cycle: []string{BlockOnOff, BlockDoor, BlockAlarms, BlockCmdOnOff, BlockCurrents},
	}
}

// VirtualButton returns the coil name of virtual button 8..12.
func VirtualButton(index int) (string, bool) {
	switch index {
	case 8:
		return CoilVB8, true
	case 9:
		return CoilVB9, true
	case 10:
		return CoilVB10, true
	case 11:
		return CoilVB11, true
	case 12:
		return CoilVB12, true
	}
	return "", false
}
