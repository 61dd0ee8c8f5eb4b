// Package influx writes status readings to an InfluxDB v2 bucket.
package influx

import (
	"context"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mhvis/solar/internal/config"
	"github.com/mhvis/solar/internal/domain"
)

// NoopWriter is a no-operation implementation of the TimeSeriesWriter interface.
type NoopWriter struct{}

// NewNoopWriter creates a new no-operation writer.
func NewNoopWriter() *NoopWriter {
	return &NoopWriter{}
}

// Write is a no-op for the NoopWriter.
func (w *NoopWriter) Write(_ context.Context, _ string, _ *domain.StatusReading) error {
	return nil
}

// Close is a no-op for the NoopWriter.
func (w *NoopWriter) Close() error {
	return nil
}

// Writer stores one point per status reading, tagged by inverter serial.
type Writer struct {
	client      influxdb2.Client
	writeAPI    api.WriteAPIBlocking
	measurement string
	logger      zerolog.Logger
}

// NewWriter creates an InfluxDB writer from the configuration.
func NewWriter(cfg *config.Config) *Writer {
	client := influxdb2.NewClient(cfg.Influx.URL, cfg.Influx.Token)
	return &Writer{
		client:      client,
		writeAPI:    client.WriteAPIBlocking(cfg.Influx.Org, cfg.Influx.Bucket),
		measurement: cfg.Influx.Measurement,
		logger:      log.With().Str("component", "influx").Logger(),
	}
}

// Write stores one reading. Nothing is written while the inverter reports
// PV power off, and zero values of fields that cannot physically be zero
// are dropped, since the inverter reports 0 when a value is unavailable.
func (w *Writer) Write(ctx context.Context, serial string, reading *domain.StatusReading) error {
	point := StatusPoint(w.measurement, serial, reading)
	if point == nil {
		w.logger.Debug().Str("serial", serial).Msg("Skipping write, PV power off")
		return nil
	}
	return w.writeAPI.WritePoint(ctx, point)
}

// Close flushes and releases the client.
func (w *Writer) Close() error {
	w.client.Close()
	return nil
}

// neverZero lists fields whose true value cannot be zero while the
// inverter is producing.
var neverZero = map[string]bool{
	"pv1_voltage":            true,
	"pv2_voltage":            true,
	"grid_voltage":           true,
	"grid_frequency":         true,
	"internal_temperature":   true,
	"heatsink_temperature":   true,
	"grid_voltage_r_phase":   true,
	"grid_voltage_s_phase":   true,
	"grid_voltage_t_phase":   true,
	"grid_frequency_r_phase": true,
	"grid_frequency_s_phase": true,
	"grid_frequency_t_phase": true,
}

// StatusPoint converts a reading to an InfluxDB point, or nil when the
// reading should not be stored.
func StatusPoint(measurement, serial string, reading *domain.StatusReading) *write.Point {
	if reading.OperationMode == "PV power off" {
		return nil
	}

	point := influxdb2.NewPointWithMeasurement(measurement).
		AddTag("serial", serial).
		AddField("operation_mode", reading.OperationMode).
		SetTime(reading.Timestamp)

	fields := map[string]float64{
		"internal_temperature":   reading.InternalTemperature,
		"heatsink_temperature":   reading.HeatsinkTemperature,
		"pv1_voltage":            reading.PV1Voltage,
		"pv2_voltage":            reading.PV2Voltage,
		"pv1_current":            reading.PV1Current,
		"pv2_current":            reading.PV2Current,
		"pv1_input_power":        reading.PV1InputPower,
		"pv2_input_power":        reading.PV2InputPower,
		"output_power":           reading.OutputPower,
		"energy_today":           reading.EnergyToday,
		"energy_total":           reading.EnergyTotal,
		"total_operation_time":   reading.TotalOperationTime,
		"grid_voltage":           reading.GridVoltage,
		"grid_current":           reading.GridCurrent,
		"grid_frequency":         reading.GridFrequency,
		"grid_voltage_r_phase":   reading.GridVoltageRPhase,
		"grid_current_r_phase":   reading.GridCurrentRPhase,
		"grid_frequency_r_phase": reading.GridFrequencyRPhase,
		"grid_voltage_s_phase":   reading.GridVoltageSPhase,
		"grid_current_s_phase":   reading.GridCurrentSPhase,
		"grid_frequency_s_phase": reading.GridFrequencySPhase,
		"grid_voltage_t_phase":   reading.GridVoltageTPhase,
		"grid_current_t_phase":   reading.GridCurrentTPhase,
		"grid_frequency_t_phase": reading.GridFrequencyTPhase,
	}
	for name, value := range fields {
		if value == 0 && neverZero[name] {
			continue
		}
		point.AddField(name, value)
	}
	for name, value := range reading.Extra {
		point.AddField(name, value)
	}
	return point
}
