package influxdb

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"telemetry-service/internal/logging"
	"telemetry-service/internal/models"
)

const measurement = "inverter_reading"

// Client writes readings to an InfluxDB v2 bucket asynchronously.
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	logger   *logging.Logger
	done     chan struct{}
}

// NewClient initializes the InfluxDB v2 client and verifies connectivity
func NewClient(url, token, org, bucket string, logger *logging.Logger) (*Client, error) {
	client := influxdb2.NewClient(url, token)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Health(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to InfluxDB: %w", err)
	}

	c := &Client{
		client:   client,
		writeAPI: client.WriteAPI(org, bucket),
		logger:   logger,
		done:     make(chan struct{}),
	}
	go c.logErrors()

	logger.Infof("InfluxDB mirror connected: %s bucket=%s", url, bucket)
	return c, nil
}

// WritePoint queues a point for the next batch.
func (c *Client) WritePoint(p *write.Point) {
	c.writeAPI.WritePoint(p)
}

func (c *Client) logErrors() {
	errs := c.writeAPI.Errors()
	for {
		select {
		case err, ok := <-errs:
			if !ok {
				return
			}
			c.logger.Errorf("InfluxDB write failed: %v", err)
		case <-c.done:
			return
		}
	}
}

// Close flushes pending points and closes the InfluxDB client
func (c *Client) Close() {
	c.writeAPI.Flush()
	close(c.done)
	c.client.Close()
}

// NewPoint converts a reading into an inverter_reading point. Readings without
// any numeric field yield nil.
func NewPoint(r models.Reading) *write.Point {
	fields := map[string]interface{}{}
	addInt := func(name string, v *int) {
		if v != nil {
			fields[name] = int64(*v)
		}
	}
	addFloat := func(name string, v *float64) {
		if v != nil {
			fields[name] = *v
		}
	}

	addInt("solar_w", r.SolarW)
	addInt("load_w", r.LoadW)
	addInt("grid_w", r.GridW)
	addInt("inverter_w", r.InverterW)
	addFloat("battery_v", r.BatteryV)
	addFloat("battery_a", r.BatteryA)
	addInt("soc", r.SOC)
	addFloat("temp_c", r.TempC)

	if len(fields) == 0 {
		return nil
	}

	return write.NewPoint(
		measurement,
		map[string]string{
			"device_id": r.DeviceID,
			"status":    string(r.Status),
		},
		fields,
		r.Timestamp,
	)
}
