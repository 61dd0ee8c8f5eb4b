package status

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Captured format and status payloads of a SolarRiver 4500TL-D
// (single-phase) and a SolarLake 17K (three-phase).
var (
	riverFormat = []byte{
		0x00, 0x01, 0x02, 0x04, 0x05, 0x09, 0x0a, 0x0c, 0x11, 0x17,
		0x18, 0x1b, 0x1c, 0x1d, 0x1e, 0x1f, 0x20, 0x21, 0x22, 0x27,
		0x28, 0x31, 0x32, 0x33, 0x34, 0x35, 0x36,
	}
	riverStatus = []byte{
		1, 119, 11, 159, 11, 246, 0, 21, 0, 20, 0, 0, 40, 64, 0, 1,
		1, 218, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
		0, 0, 2, 136, 2, 111, 0, 55, 9, 20, 19, 134, 4, 238, 0, 1,
		177, 204,
	}

	lakeFormat = []byte{
		0x00, 0x01, 0x02, 0x04, 0x05, 0x07, 0x08, 0x09, 0x0a, 0x0b,
		0x0c, 0x11, 0x17, 0x18, 0x19, 0x1a, 0x1b, 0x1c, 0x1d, 0x1e,
		0x21, 0x22, 0x27, 0x28, 0x2f, 0x31, 0x32, 0x33, 0x51, 0x52,
		0x53, 0x71, 0x72, 0x73,
	}
	lakeStatus = []byte{
		1, 94, 22, 233, 0, 67, 0, 48, 0, 1, 0, 0, 3, 2, 0, 0, 0, 45,
		10, 29, 0, 1, 8, 72, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
		0, 0, 0, 0, 0, 0, 11, 6, 0, 0, 2, 18, 0, 36, 9, 122, 19, 137,
		0, 37, 9, 141, 19, 137, 0, 36, 9, 121, 19, 137,
	}
)

func TestResolveRiver(t *testing.T) {
	schema := Resolve(riverFormat)

	// One entry per format byte, so the payload size follows directly.
	require.Len(t, schema, len(riverFormat))
	assert.Equal(t, 54, schema.PayloadLen())
	assert.False(t, schema.ThreePhase())

	// 0x09/0x0a is a composite pair.
	assert.True(t, schema[5].Composite)
	assert.Equal(t, FieldTotalOperationTime, schema[5].Name)
	assert.True(t, schema[6].Consumed)

	// 0x17 is not in the registry and resolves as opaque.
	assert.False(t, schema[9].Known)
	assert.Equal(t, "tag_17", schema[9].Name)

	// Single-phase, so grid fields keep their plain names.
	assert.Equal(t, FieldGridVoltage, schema[22].Name)
}

func TestResolveLakeRenamesRPhase(t *testing.T) {
	schema := Resolve(lakeFormat)

	require.Len(t, schema, len(lakeFormat))
	assert.True(t, schema.ThreePhase())
	assert.Equal(t, FieldGridCurrentRPhase, schema[25].Name)
	assert.Equal(t, FieldGridVoltageRPhase, schema[26].Name)
	assert.Equal(t, FieldGridFrequencyRPhase, schema[27].Name)
	assert.Equal(t, FieldGridCurrentSPhase, schema[28].Name)
	assert.Equal(t, FieldGridCurrentTPhase, schema[31].Name)
}

func TestResolveUnpairedCompositeIsOpaque(t *testing.T) {
	// A high tag without its low partner, and a low tag on its own.
	schema := Resolve([]byte{0x35, 0x0c, 0x36})

	require.Len(t, schema, 3)
	assert.False(t, schema[0].Known)
	assert.Equal(t, "tag_35", schema[0].Name)
	assert.Equal(t, FieldOperationMode, schema[1].Name)
	assert.False(t, schema[2].Known)
	assert.Equal(t, "tag_36", schema[2].Name)
}

func TestDecodeRiver(t *testing.T) {
	reading, err := Decode(Resolve(riverFormat), riverStatus)
	require.NoError(t, err)

	assert.InDelta(t, 37.5, reading.InternalTemperature, 1e-9)
	assert.InDelta(t, 297.5, reading.PV1Voltage, 1e-9)
	assert.InDelta(t, 306.2, reading.PV2Voltage, 1e-9)
	assert.InDelta(t, 2.1, reading.PV1Current, 1e-9)
	assert.InDelta(t, 2.0, reading.PV2Current, 1e-9)
	assert.InDelta(t, 10304, reading.TotalOperationTime, 1e-9)
	assert.Equal(t, "Normal", reading.OperationMode)
	assert.Equal(t, uint16(1), reading.OperationModeRaw)
	assert.InDelta(t, 4.74, reading.EnergyToday, 1e-9)
	assert.InDelta(t, 648, reading.PV1InputPower, 1e-9)
	assert.InDelta(t, 623, reading.PV2InputPower, 1e-9)
	assert.InDelta(t, 5.5, reading.GridCurrent, 1e-9)
	assert.InDelta(t, 232.4, reading.GridVoltage, 1e-9)
	assert.InDelta(t, 49.98, reading.GridFrequency, 1e-9)
	assert.InDelta(t, 1262, reading.OutputPower, 1e-9)
	// Composite: high word 1, low word 0xb1cc.
	assert.InDelta(t, 11105.2, reading.EnergyTotal, 1e-9)
	assert.False(t, reading.Timestamp.IsZero())

	// Opaque tags land in Extra with their raw word value.
	assert.Contains(t, reading.Extra, "tag_17")
	assert.InDelta(t, 0, reading.Extra["tag_17"], 1e-9)
}

func TestDecodeLake(t *testing.T) {
	reading, err := Decode(Resolve(lakeFormat), lakeStatus)
	require.NoError(t, err)

	assert.InDelta(t, 35.0, reading.InternalTemperature, 1e-9)
	assert.InDelta(t, 586.5, reading.PV1Voltage, 1e-9)
	assert.InDelta(t, 6.7, reading.PV2Voltage, 1e-9)
	assert.InDelta(t, 4.8, reading.PV1Current, 1e-9)
	assert.InDelta(t, 0.1, reading.PV2Current, 1e-9)
	assert.InDelta(t, 77.0, reading.EnergyTotal, 1e-9)
	assert.InDelta(t, 45, reading.TotalOperationTime, 1e-9)
	assert.InDelta(t, 2589, reading.OutputPower, 1e-9)
	assert.Equal(t, "Normal", reading.OperationMode)
	assert.InDelta(t, 21.20, reading.EnergyToday, 1e-9)
	assert.InDelta(t, 2822, reading.PV1InputPower, 1e-9)
	assert.InDelta(t, 0, reading.PV2InputPower, 1e-9)
	assert.InDelta(t, 53.0, reading.HeatsinkTemperature, 1e-9)

	assert.InDelta(t, 3.6, reading.GridCurrentRPhase, 1e-9)
	assert.InDelta(t, 242.6, reading.GridVoltageRPhase, 1e-9)
	assert.InDelta(t, 50.01, reading.GridFrequencyRPhase, 1e-9)
	assert.InDelta(t, 3.7, reading.GridCurrentSPhase, 1e-9)
	assert.InDelta(t, 244.5, reading.GridVoltageSPhase, 1e-9)
	assert.InDelta(t, 50.01, reading.GridFrequencySPhase, 1e-9)
	assert.InDelta(t, 3.6, reading.GridCurrentTPhase, 1e-9)
	assert.InDelta(t, 242.5, reading.GridVoltageTPhase, 1e-9)
	assert.InDelta(t, 50.01, reading.GridFrequencyTPhase, 1e-9)

	// Plain grid fields stay zero on a three-phase schema.
	assert.Zero(t, reading.GridVoltage)
}

func TestDecodeSignedTemperature(t *testing.T) {
	schema := Resolve([]byte{0x00})
	reading, err := Decode(schema, []byte{0xff, 0xce}) // -50

	require.NoError(t, err)
	assert.InDelta(t, -5.0, reading.InternalTemperature, 1e-9)
}

func TestDecodeUnknownOperationMode(t *testing.T) {
	schema := Resolve([]byte{0x0c})
	reading, err := Decode(schema, []byte{0x00, 0x09})

	require.NoError(t, err)
	assert.Equal(t, "unknown (9)", reading.OperationMode)
	assert.Equal(t, uint16(9), reading.OperationModeRaw)
}

func TestDecodeLengthMismatch(t *testing.T) {
	schema := Resolve(riverFormat)

	_, err := Decode(schema, riverStatus[:10])
	assert.ErrorIs(t, err, ErrLengthMismatch)

	_, err = Decode(schema, append(append([]byte{}, riverStatus...), 0x00))
	assert.ErrorIs(t, err, ErrLengthMismatch)
}
