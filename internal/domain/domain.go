// Package domain provides core domain models and interfaces for the solar monitor.
package domain

import (
	"context"
	"time"
)

// ModelInfo holds the identification data an inverter reports once per
// connection, parsed from the model-info response payload.
type ModelInfo struct {
	DeviceType           string `json:"device_type"`
	DeviceTypeName       string `json:"device_type_name,omitempty"`
	VARating             string `json:"va_rating,omitempty"`
	FirmwareVersion      string `json:"firmware_version,omitempty"`
	ModelName            string `json:"model_name,omitempty"`
	Manufacturer         string `json:"manufacturer,omitempty"`
	SerialNumber         string `json:"serial_number,omitempty"`
	CommunicationVersion string `json:"communication_version,omitempty"`
	OtherVersion         string `json:"other_version,omitempty"`
	General              string `json:"general,omitempty"`
}

// ThreePhase reports whether the inverter is a three-phase model.
func (m *ModelInfo) ThreePhase() bool {
	return m.DeviceType == "2"
}

// StatusReading represents one decoded status-data response. Field
// presence depends on the schema the inverter negotiated for the session;
// absent fields stay at their zero value and are omitted from JSON.
type StatusReading struct {
	Timestamp time.Time `json:"timestamp"`

	OperationMode    string `json:"operation_mode,omitempty"`
	OperationModeRaw uint16 `json:"-"`

	TotalOperationTime float64 `json:"total_operation_time,omitempty"`
	PV1InputPower      float64 `json:"pv1_input_power,omitempty"`
	PV2InputPower      float64 `json:"pv2_input_power,omitempty"`
	PV1Voltage         float64 `json:"pv1_voltage,omitempty"`
	PV2Voltage         float64 `json:"pv2_voltage,omitempty"`
	PV1Current         float64 `json:"pv1_current,omitempty"`
	PV2Current         float64 `json:"pv2_current,omitempty"`
	OutputPower        float64 `json:"output_power,omitempty"`
	EnergyToday        float64 `json:"energy_today,omitempty"`
	EnergyTotal        float64 `json:"energy_total,omitempty"`

	GridVoltage   float64 `json:"grid_voltage,omitempty"`
	GridCurrent   float64 `json:"grid_current,omitempty"`
	GridFrequency float64 `json:"grid_frequency,omitempty"`

	GridVoltageRPhase   float64 `json:"grid_voltage_r_phase,omitempty"`
	GridCurrentRPhase   float64 `json:"grid_current_r_phase,omitempty"`
	GridFrequencyRPhase float64 `json:"grid_frequency_r_phase,omitempty"`
	GridVoltageSPhase   float64 `json:"grid_voltage_s_phase,omitempty"`
	GridCurrentSPhase   float64 `json:"grid_current_s_phase,omitempty"`
	GridFrequencySPhase float64 `json:"grid_frequency_s_phase,omitempty"`
	GridVoltageTPhase   float64 `json:"grid_voltage_t_phase,omitempty"`
	GridCurrentTPhase   float64 `json:"grid_current_t_phase,omitempty"`
	GridFrequencyTPhase float64 `json:"grid_frequency_t_phase,omitempty"`

	InternalTemperature float64 `json:"internal_temperature,omitempty"`
	HeatsinkTemperature float64 `json:"heatsink_temperature,omitempty"`

	// Values for schema tags without a registry entry, keyed by the hex
	// tag value (e.g. "tag_17"), carrying the raw unsigned word.
	Extra map[string]float64 `json:"extra,omitempty"`
}

// OperationModeNormal is the mode reported while the inverter is feeding
// the grid. PVOutput uploads only consider readings in this mode.
const OperationModeNormal = "Normal"

// DayRecords holds the reconstructed telemetry log of one calendar day
// from a historical transfer.
type DayRecords struct {
	Year    int        `json:"year"`
	Month   int        `json:"month"`
	Day     int        `json:"day"`
	Records [][]string `json:"records"`
}

// StatusPublisher defines the interface for publishing decoded readings.
type StatusPublisher interface {
	// Connect establishes a connection to the messaging system
	Connect(ctx context.Context) error

	// Publish sends a decoded reading for the given inverter serial
	Publish(ctx context.Context, serial string, reading *StatusReading) error

	// Close terminates the connection to the messaging system
	Close() error
}

// MonitoringService defines the interface for external monitoring services.
type MonitoringService interface {
	// Send publishes readings of all connected inverters in one batch
	Send(ctx context.Context, readings []*StatusReading) error

	// Close terminates the connection to the service
	Close() error
}

// TimeSeriesWriter defines the interface for time-series database writers.
type TimeSeriesWriter interface {
	// Write records a single reading for the given inverter serial
	Write(ctx context.Context, serial string, reading *StatusReading) error

	// Close flushes pending writes and releases the client
	Close() error
}

// Registry keeps track of connected inverters.
type Registry interface {
	// Register adds or updates an inverter in the registry
	Register(model *ModelInfo, addr string)

	// UpdateReading stores the most recent reading for an inverter
	UpdateReading(serial string, reading *StatusReading)

	// Remove deletes an inverter from the registry
	Remove(serial string)

	// Get retrieves information about an inverter
	Get(serial string) (*InverterRecord, bool)

	// All returns information about all connected inverters
	All() []*InverterRecord
}

// InverterRecord contains registry information about a connected inverter.
type InverterRecord struct {
	Model       *ModelInfo     `json:"model"`
	Addr        string         `json:"addr"`
	ConnectedAt time.Time      `json:"connected_at"`
	LastSeen    time.Time      `json:"last_seen"`
	LastReading *StatusReading `json:"last_reading,omitempty"`
}
