// Package influx writes the miner's time series to InfluxDB: solutions,
// hashrate samples and block submissions.
package influx

import (
	"context"
	"strconv"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/influxdata/influxdb-client-go/v2/domain"

	"github.com/bardlex/gominer/pkg/errors"
	"github.com/bardlex/gominer/pkg/log"
)

// Measurements
const (
	MeasurementSolutions = "solutions"
	MeasurementHashrate  = "hashrate"
	MeasurementBlocks    = "blocks"
)

// Client wraps InfluxDB operations for time-series metrics
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	logger   *log.Logger
}

// Config holds InfluxDB connection configuration
type Config struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// NewClient creates a new InfluxDB client. Asynchronous write failures are logged.
func NewClient(ctx context.Context, cfg *Config, logger *log.Logger) (*Client, error) {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	healthCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := checkHealth(healthCtx, client); err != nil {
		client.Close()
		return nil, err
	}

	c := &Client{
		client:   client,
		writeAPI: client.WriteAPI(cfg.Org, cfg.Bucket),
		logger:   logger.WithComponent("influx"),
	}

	// drained until client.Close closes the write API
	go func(errs <-chan error) {
		for err := range errs {
			c.logger.WithError(err).Warn("failed to write points")
		}
	}(c.writeAPI.Errors())

	return c, nil
}

func checkHealth(ctx context.Context, client influxdb2.Client) error {
	health, err := client.Health(ctx)
	switch {
	case err != nil:
		return errors.Wrap(err, errors.ErrorTypeDatabase, "influx_health", "health request failed")
	case health.Status == domain.HealthCheckStatusPass:
		return nil
	case health.Message != nil:
		return errors.Newf(errors.ErrorTypeDatabase, "influx_health", "status %s: %s", health.Status, *health.Message)
	}
	return errors.Newf(errors.ErrorTypeDatabase, "influx_health", "status %s", health.Status)
}

// Close flushes pending points and closes the InfluxDB connection
func (c *Client) Close() {
	c.writeAPI.Flush()
	c.client.Close()
}

// Health checks InfluxDB connectivity
func (c *Client) Health(ctx context.Context) error {
	return checkHealth(ctx, c.client)
}

// Flush forces a write of all pending points
func (c *Client) Flush() {
	c.writeAPI.Flush()
}

// WriteSolution records one validated solution.
func (c *Client) WriteSolution(s SolutionPoint) {
	c.writeAPI.WritePoint(solutionPoint(s))
}

// WriteHashrate records a hashrate sample of a solver.
func (c *Client) WriteHashrate(solver string, hashesPerSec float64, at time.Time) {
	c.writeAPI.WritePoint(hashratePoint(solver, hashesPerSec, at))
}

// WriteBlock records a block submission.
func (c *Client) WriteBlock(height int64, hash, status string, latency time.Duration, at time.Time) {
	c.writeAPI.WritePoint(blockPoint(height, hash, status, latency, at))
}

// SolutionPoint carries the fields of one solution sample.
type SolutionPoint struct {
	Client     string
	Class      string
	Difficulty float64
	Stale      bool
	Time       time.Time
}

func solutionPoint(s SolutionPoint) *write.Point {
	return write.NewPointWithMeasurement(MeasurementSolutions).
		AddTag("class", s.Class).
		AddTag("client", s.Client).
		AddTag("stale", strconv.FormatBool(s.Stale)).
		AddField("count", 1).
		AddField("difficulty", s.Difficulty).
		SetTime(s.Time)
}

func hashratePoint(solver string, hashesPerSec float64, at time.Time) *write.Point {
	return write.NewPointWithMeasurement(MeasurementHashrate).
		AddTag("solver", solver).
		AddField("hashrate", hashesPerSec).
		SetTime(at)
}

// blockPoint tags by status so accepted and rejected submissions graph apart.
func blockPoint(height int64, hash, status string, latency time.Duration, at time.Time) *write.Point {
	return write.NewPointWithMeasurement(MeasurementBlocks).
		AddTag("hash", hash).
		AddTag("status", status).
		AddField("height", height).
		AddField("latency_ms", float64(latency)/float64(time.Millisecond)).
		SetTime(at)
}
