package inverter

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/mhvis/solar/internal/domain"
)

// modelInfoLen is the fixed size of the model-info response payload.
const modelInfoLen = 71

// deviceTypeNames maps the device type code to its description.
var deviceTypeNames = map[string]string{
	"1": "Single-phase inverter",
	"2": "Three-phase inverter",
	"3": "SolarEnvi Monitor",
	"4": "R-phase inverter of the three combined single-phase ones",
	"5": "S-phase inverter of the three combined single-phase ones",
	"6": "T-phase inverter of the three combined single-phase ones",
}

// modelField is one fixed-offset string field of the model-info payload.
type modelField struct {
	name       string
	start, end int
	dst        func(*domain.ModelInfo) *string
}

var modelFields = []modelField{
	{"device_type", 0, 1, func(m *domain.ModelInfo) *string { return &m.DeviceType }},
	{"va_rating", 1, 7, func(m *domain.ModelInfo) *string { return &m.VARating }},
	{"firmware_version", 7, 12, func(m *domain.ModelInfo) *string { return &m.FirmwareVersion }},
	{"model_name", 12, 28, func(m *domain.ModelInfo) *string { return &m.ModelName }},
	{"manufacturer", 28, 44, func(m *domain.ModelInfo) *string { return &m.Manufacturer }},
	{"serial_number", 44, 60, func(m *domain.ModelInfo) *string { return &m.SerialNumber }},
	{"communication_version", 60, 65, func(m *domain.ModelInfo) *string { return &m.CommunicationVersion }},
	{"other_version", 65, 70, func(m *domain.ModelInfo) *string { return &m.OtherVersion }},
	{"general", 70, 71, func(m *domain.ModelInfo) *string { return &m.General }},
}

// ParseModelInfo parses a model-info response payload. Each field is a
// fixed-offset byte range holding an optionally nul-terminated ASCII
// string. A field with non-ASCII content is left empty without failing
// the whole parse; errors for such fields are returned alongside the
// result.
func ParseModelInfo(payload []byte) (*domain.ModelInfo, []error) {
	if len(payload) < modelInfoLen {
		return nil, []error{fmt.Errorf("model info payload too short: %d bytes, need %d", len(payload), modelInfoLen)}
	}

	model := &domain.ModelInfo{}
	var fieldErrs []error
	for _, f := range modelFields {
		value, err := decodeString(payload[f.start:f.end])
		if err != nil {
			fieldErrs = append(fieldErrs, fmt.Errorf("model field %s: %w", f.name, err))
			continue
		}
		*f.dst(model) = value
	}
	model.DeviceTypeName = deviceTypeNames[model.DeviceType]
	return model, fieldErrs
}

// decodeString decodes a possibly nul-terminated ASCII byte range and
// strips surrounding whitespace.
func decodeString(val []byte) (string, error) {
	if i := bytes.IndexByte(val, 0); i >= 0 {
		val = val[:i]
	}
	for _, b := range val {
		if b > 0x7f {
			return "", fmt.Errorf("non-ASCII byte %#02x", b)
		}
	}
	return strings.TrimSpace(string(val)), nil
}
