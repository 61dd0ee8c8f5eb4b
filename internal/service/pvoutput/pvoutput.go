// Package pvoutput uploads aggregated production data to PVOutput.org.
package pvoutput

import (
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mhvis/solar/internal/config"
	"github.com/mhvis/solar/internal/domain"
)

// DefaultEndpoint is the PVOutput.org add-status service URL.
const DefaultEndpoint = "https://pvoutput.org/service/r2/addstatus.jsp"

// NoopClient is a no-operation implementation of the MonitoringService interface.
type NoopClient struct{}

// NewNoopClient creates a new no-operation client.
func NewNoopClient() *NoopClient {
	return &NoopClient{}
}

// Send is a no-op for the NoopClient.
func (c *NoopClient) Send(_ context.Context, _ []*domain.StatusReading) error {
	return nil
}

// Close is a no-op for the NoopClient.
func (c *NoopClient) Close() error {
	return nil
}

// Client uploads aggregated status readings to a PVOutput.org system.
type Client struct {
	config     *config.Config
	endpoint   string
	httpClient *http.Client
	logger     zerolog.Logger

	// now is replaceable for tests.
	now        func() time.Time
	lastUpload time.Time
}

// NewClient creates a PVOutput client from the configuration.
func NewClient(cfg *config.Config) *Client {
	return &Client{
		config:     cfg,
		endpoint:   DefaultEndpoint,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     log.With().Str("component", "pvoutput").Logger(),
		now:        time.Now,
	}
}

// NewClientWithEndpoint creates a client targeting a custom service URL (for testing).
func NewClientWithEndpoint(cfg *config.Config, endpoint string) *Client {
	c := NewClient(cfg)
	c.endpoint = endpoint
	return c
}

// Send aggregates the readings of all inverters and uploads one combined
// status. Uploads more frequent than the configured rate limit are
// silently skipped, as are batches without any inverter in normal
// operation.
func (c *Client) Send(ctx context.Context, readings []*domain.StatusReading) error {
	limit := time.Duration(c.config.PVOutput.UpdateLimitMinutes) * time.Minute
	if !c.lastUpload.IsZero() && c.now().Sub(c.lastUpload) < limit {
		c.logger.Debug().Msg("Skipping upload, rate limit not yet passed")
		return nil
	}

	agg := Aggregate(readings, c.config.PVOutput.DCVoltage)
	if agg == nil {
		c.logger.Debug().Msg("Skipping upload, no inverter in normal operation")
		return nil
	}

	if err := c.upload(ctx, agg); err != nil {
		return err
	}
	c.lastUpload = c.now()
	return nil
}

// Close is a no-op; the client holds no persistent connection.
func (c *Client) Close() error {
	return nil
}

// AggregatedStatus is one combined production status for upload.
type AggregatedStatus struct {
	// EnergyGen is today's generated energy in watt hours.
	EnergyGen int
	// PowerGen is the momentary output power in watts.
	PowerGen int
	// Temp is the average internal temperature in degrees celsius.
	Temp float64
	// Voltage is the average grid or PV voltage in volts.
	Voltage float64
}

// Aggregate combines per-inverter readings into one status. Inverters not
// in normal operation are skipped; nil is returned when none remain. With
// dcVoltage the PV voltages are averaged instead of the grid voltage; on
// three-phase inverters the grid voltage is the average of all phases.
func Aggregate(readings []*domain.StatusReading, dcVoltage bool) *AggregatedStatus {
	var (
		energy, power int
		temps, volts  []float64
	)
	for _, r := range readings {
		if r.OperationMode != domain.OperationModeNormal {
			continue
		}

		var voltage float64
		switch {
		case dcVoltage:
			voltage = (r.PV1Voltage + r.PV2Voltage) / 2
		case r.GridVoltageRPhase != 0:
			voltage = (r.GridVoltageRPhase + r.GridVoltageSPhase + r.GridVoltageTPhase) / 3
		default:
			voltage = r.GridVoltage
		}

		energy += int(r.EnergyToday * 1000)
		power += int(r.OutputPower)
		temps = append(temps, r.InternalTemperature)
		volts = append(volts, voltage)
	}
	if len(temps) == 0 {
		return nil
	}
	return &AggregatedStatus{
		EnergyGen: energy,
		PowerGen:  power,
		Temp:      round1(avg(temps)),
		Voltage:   round1(avg(volts)),
	}
}

func avg(items []float64) float64 {
	var sum float64
	for _, v := range items {
		sum += v
	}
	return sum / float64(len(items))
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// upload posts one aggregated status to the add-status service.
func (c *Client) upload(ctx context.Context, agg *AggregatedStatus) error {
	now := c.now()
	form := url.Values{
		"d":  {now.Format("20060102")},
		"t":  {now.Format("15:04")},
		"v1": {strconv.Itoa(agg.EnergyGen)},
		"v2": {strconv.Itoa(agg.PowerGen)},
		"v5": {strconv.FormatFloat(agg.Temp, 'f', 1, 64)},
		"v6": {strconv.FormatFloat(agg.Voltage, 'f', 1, 64)},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Pvoutput-SystemId", c.config.PVOutput.SystemID)
	req.Header.Set("X-Pvoutput-Apikey", c.config.PVOutput.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("uploading status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("pvoutput returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	c.logger.Info().
		Int("energy_wh", agg.EnergyGen).
		Int("power_w", agg.PowerGen).
		Msg("Uploaded status to PVOutput")
	return nil
}
