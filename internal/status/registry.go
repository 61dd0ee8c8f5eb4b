// Package status interprets inverter status telemetry. The layout of the
// status payload is not fixed: each inverter advertises its own format as
// a sequence of one-byte field tags, which this package resolves against
// a registry of known tags and then uses to decode the raw payload into
// named, scaled values.
package status

import "fmt"

// Rule describes how a single status field tag is decoded.
type Rule struct {
	Name   string
	Unit   string
	Signed bool
	// Divisor scales the raw integer to its physical value. 1 means the
	// raw value is used as is.
	Divisor float64
	// PairTag is the tag of the low word for 32-bit quantities. The low
	// word directly follows the high word in the payload. Zero for
	// single-word fields.
	PairTag byte
	// Enum maps the raw value to a symbolic name instead of scaling.
	Enum map[uint16]string
}

// Field names assigned by the registry. Exported so decode switches stay
// typo-proof.
const (
	FieldInternalTemperature = "internal_temperature"
	FieldPV1Voltage          = "pv1_voltage"
	FieldPV2Voltage          = "pv2_voltage"
	FieldPV1Current          = "pv1_current"
	FieldPV2Current          = "pv2_current"
	FieldEnergyTotal         = "energy_total"
	FieldTotalOperationTime  = "total_operation_time"
	FieldOutputPower         = "output_power"
	FieldOperationMode       = "operation_mode"
	FieldEnergyToday         = "energy_today"
	FieldPV1InputPower       = "pv1_input_power"
	FieldPV2InputPower       = "pv2_input_power"
	FieldHeatsinkTemperature = "heatsink_temperature"
	FieldGridCurrent         = "grid_current"
	FieldGridVoltage         = "grid_voltage"
	FieldGridFrequency       = "grid_frequency"
	FieldGridCurrentRPhase   = "grid_current_r_phase"
	FieldGridVoltageRPhase   = "grid_voltage_r_phase"
	FieldGridFrequencyRPhase = "grid_frequency_r_phase"
	FieldGridCurrentSPhase   = "grid_current_s_phase"
	FieldGridVoltageSPhase   = "grid_voltage_s_phase"
	FieldGridFrequencySPhase = "grid_frequency_s_phase"
	FieldGridCurrentTPhase   = "grid_current_t_phase"
	FieldGridVoltageTPhase   = "grid_voltage_t_phase"
	FieldGridFrequencyTPhase = "grid_frequency_t_phase"
)

// operationModes maps the raw operation mode value to its name.
var operationModes = map[uint16]string{
	0: "Wait",
	1: "Normal",
	2: "Fault",
	3: "Permanent fault",
	4: "Check",
	5: "PV power off",
}

// tagSPhaseCurrent marks a three-phase format: when present, the plain
// grid fields are the R phase and get renamed accordingly.
const tagSPhaseCurrent = 0x51

// registry holds the known field tags. Tags absent here decode as opaque
// raw values so that unrecognized firmware variants still produce data.
var registry = map[byte]Rule{
	0x00: {Name: FieldInternalTemperature, Unit: "°C", Signed: true, Divisor: 10},
	0x01: {Name: FieldPV1Voltage, Unit: "V", Divisor: 10},
	0x02: {Name: FieldPV2Voltage, Unit: "V", Divisor: 10},
	0x04: {Name: FieldPV1Current, Unit: "A", Divisor: 10},
	0x05: {Name: FieldPV2Current, Unit: "A", Divisor: 10},
	0x07: {Name: FieldEnergyTotal, Unit: "kWh", Divisor: 10, PairTag: 0x08},
	0x09: {Name: FieldTotalOperationTime, Unit: "h", Divisor: 1, PairTag: 0x0a},
	0x0b: {Name: FieldOutputPower, Unit: "W", Divisor: 1},
	0x0c: {Name: FieldOperationMode, Enum: operationModes},
	0x11: {Name: FieldEnergyToday, Unit: "kWh", Divisor: 100},
	0x27: {Name: FieldPV1InputPower, Unit: "W", Divisor: 1},
	0x28: {Name: FieldPV2InputPower, Unit: "W", Divisor: 1},
	0x2f: {Name: FieldHeatsinkTemperature, Unit: "°C", Signed: true, Divisor: 10},
	0x31: {Name: FieldGridCurrent, Unit: "A", Divisor: 10},
	0x32: {Name: FieldGridVoltage, Unit: "V", Divisor: 10},
	0x33: {Name: FieldGridFrequency, Unit: "Hz", Divisor: 100},
	0x34: {Name: FieldOutputPower, Unit: "W", Divisor: 1},
	0x35: {Name: FieldEnergyTotal, Unit: "kWh", Divisor: 10, PairTag: 0x36},
	0x51: {Name: FieldGridCurrentSPhase, Unit: "A", Divisor: 10},
	0x52: {Name: FieldGridVoltageSPhase, Unit: "V", Divisor: 10},
	0x53: {Name: FieldGridFrequencySPhase, Unit: "Hz", Divisor: 100},
	0x71: {Name: FieldGridCurrentTPhase, Unit: "A", Divisor: 10},
	0x72: {Name: FieldGridVoltageTPhase, Unit: "V", Divisor: 10},
	0x73: {Name: FieldGridFrequencyTPhase, Unit: "Hz", Divisor: 100},
}

// rPhaseNames renames the plain grid fields on three-phase inverters.
var rPhaseNames = map[string]string{
	FieldGridCurrent:   FieldGridCurrentRPhase,
	FieldGridVoltage:   FieldGridVoltageRPhase,
	FieldGridFrequency: FieldGridFrequencyRPhase,
}

// opaqueName names an unrecognized tag in decoded output.
func opaqueName(tag byte) string {
	return fmt.Sprintf("tag_%02x", tag)
}
