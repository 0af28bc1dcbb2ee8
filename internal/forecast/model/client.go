// Package model defines the boundary to the learned forecaster and its
// HTTP implementation.
package model

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fieldsense/fieldsense-telemetry/internal/metrics"
	"github.com/fieldsense/fieldsense-telemetry/internal/models"
)

// Prediction is one raw forecaster output point. Confidence is nil when the
// model did not report one.
type Prediction struct {
	Timestamp    time.Time `json:"timestamp"`
	Temperature  float64   `json:"temperature"`
	Humidity     float64   `json:"humidity"`
	SoilMoisture float64   `json:"soilMoisture"`
	Confidence   *float64  `json:"confidence,omitempty"`
}

// Invoker abstracts the learned forecaster so the transport (HTTP sidecar,
// subprocess, in-process model) can be swapped without touching the
// orchestrator.
type Invoker interface {
	// Predict requests steps future points for the given reading window
	// (ordered oldest to newest). Any transport failure, non-OK response,
	// model-reported error, or unparsable body is returned as an error;
	// the caller decides whether to fall back.
	Predict(ctx context.Context, window []*models.Reading, steps int) ([]Prediction, error)
}

// Client invokes a forecaster sidecar over HTTP (POST {baseURL}/predict).
type Client struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
}

// NewClient creates an HTTP forecaster client. timeout bounds each Predict
// call independently of the caller's context.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{},
		timeout:    timeout,
	}
}

type predictRequest struct {
	Readings []wireReading `json:"readings"`
	Steps    int           `json:"steps"`
}

type wireReading struct {
	Temperature  float64   `json:"temperature"`
	Humidity     float64   `json:"humidity"`
	SoilMoisture float64   `json:"soilMoisture"`
	Timestamp    time.Time `json:"timestamp"`
}

type predictResponse struct {
	Success     bool         `json:"success"`
	Predictions []Prediction `json:"predictions"`
	Model       string       `json:"model"`
	Error       string       `json:"error"`
	Details     string       `json:"details"`
}

// Predict implements Invoker.
func (c *Client) Predict(ctx context.Context, window []*models.Reading, steps int) ([]Prediction, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	readings := make([]wireReading, 0, len(window))
	for _, r := range window {
		readings = append(readings, wireReading{
			Temperature:  r.Temperature,
			Humidity:     r.Humidity,
			SoilMoisture: r.SoilMoisture,
			Timestamp:    r.Timestamp.UTC(),
		})
	}
	body, err := json.Marshal(predictRequest{Readings: readings, Steps: steps})
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/predict", bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	httpResp, err := c.httpClient.Do(httpReq)
	metrics.ModelInvocationDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.ModelInvocationFailures.WithLabelValues(failureReason(ctx)).Inc()
		return nil, fmt.Errorf("HTTP: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(httpResp.Body)
		metrics.ModelInvocationFailures.WithLabelValues("status").Inc()
		return nil, fmt.Errorf("forecaster %d: %s", httpResp.StatusCode, string(b))
	}

	var resp predictResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		metrics.ModelInvocationFailures.WithLabelValues("malformed").Inc()
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if resp.Error != "" {
		metrics.ModelInvocationFailures.WithLabelValues("rejected").Inc()
		return nil, fmt.Errorf("forecaster rejected request: %s %s", resp.Error, resp.Details)
	}
	if len(resp.Predictions) == 0 {
		metrics.ModelInvocationFailures.WithLabelValues("malformed").Inc()
		return nil, fmt.Errorf("forecaster returned no predictions")
	}
	return resp.Predictions, nil
}

func failureReason(ctx context.Context) string {
	switch ctx.Err() {
	case context.DeadlineExceeded:
		return "timeout"
	case context.Canceled:
		return "canceled"
	}
	return "transport"
}
