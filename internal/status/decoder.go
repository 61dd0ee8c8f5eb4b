package status

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/mhvis/solar/internal/domain"
)

// ErrLengthMismatch is returned when a status payload does not match the
// negotiated schema size.
var ErrLengthMismatch = errors.New("status payload length does not match schema")

// Decode interprets a status-data payload against the schema negotiated
// for the session. The payload is a sequence of big-endian words, one per
// schema entry.
func Decode(schema Schema, payload []byte) (*domain.StatusReading, error) {
	if len(payload) != schema.PayloadLen() {
		return nil, fmt.Errorf("%w: got %d bytes, schema needs %d", ErrLengthMismatch, len(payload), schema.PayloadLen())
	}

	reading := &domain.StatusReading{Timestamp: time.Now().UTC()}
	for i, entry := range schema {
		if entry.Consumed {
			continue
		}

		word := binary.BigEndian.Uint16(payload[2*i:])

		if !entry.Known {
			if reading.Extra == nil {
				reading.Extra = make(map[string]float64)
			}
			reading.Extra[entry.Name] = float64(word)
			continue
		}

		if entry.Rule.Enum != nil {
			reading.OperationModeRaw = word
			mode, ok := entry.Rule.Enum[word]
			if !ok {
				mode = fmt.Sprintf("unknown (%d)", word)
			}
			reading.OperationMode = mode
			continue
		}

		var value float64
		switch {
		case entry.Composite:
			low := binary.BigEndian.Uint16(payload[2*(i+1):])
			value = float64(uint32(word)<<16 | uint32(low))
		case entry.Rule.Signed:
			value = float64(int16(word))
		default:
			value = float64(word)
		}
		if entry.Rule.Divisor > 1 {
			value /= entry.Rule.Divisor
		}

		assign(reading, entry.Name, value)
	}
	return reading, nil
}

// assign routes a decoded value to its reading field.
func assign(r *domain.StatusReading, name string, value float64) {
	switch name {
	case FieldInternalTemperature:
		r.InternalTemperature = value
	case FieldHeatsinkTemperature:
		r.HeatsinkTemperature = value
	case FieldPV1Voltage:
		r.PV1Voltage = value
	case FieldPV2Voltage:
		r.PV2Voltage = value
	case FieldPV1Current:
		r.PV1Current = value
	case FieldPV2Current:
		r.PV2Current = value
	case FieldPV1InputPower:
		r.PV1InputPower = value
	case FieldPV2InputPower:
		r.PV2InputPower = value
	case FieldEnergyTotal:
		r.EnergyTotal = value
	case FieldEnergyToday:
		r.EnergyToday = value
	case FieldTotalOperationTime:
		r.TotalOperationTime = value
	case FieldOutputPower:
		r.OutputPower = value
	case FieldGridCurrent:
		r.GridCurrent = value
	case FieldGridVoltage:
		r.GridVoltage = value
	case FieldGridFrequency:
		r.GridFrequency = value
	case FieldGridCurrentRPhase:
		r.GridCurrentRPhase = value
	case FieldGridVoltageRPhase:
		r.GridVoltageRPhase = value
	case FieldGridFrequencyRPhase:
		r.GridFrequencyRPhase = value
	case FieldGridCurrentSPhase:
		r.GridCurrentSPhase = value
	case FieldGridVoltageSPhase:
		r.GridVoltageSPhase = value
	case FieldGridFrequencySPhase:
		r.GridFrequencySPhase = value
	case FieldGridCurrentTPhase:
		r.GridCurrentTPhase = value
	case FieldGridVoltageTPhase:
		r.GridVoltageTPhase = value
	case FieldGridFrequencyTPhase:
		r.GridFrequencyTPhase = value
	}
}
