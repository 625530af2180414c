package recognizer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"platewatch/internal/domain/plates"
)

const DefaultEndpoint = "https://api.platerecognizer.com/v1/plate-reader/"

var (
	// ErrAPIFailure marks a non-200 response from the recognition endpoint.
	ErrAPIFailure = errors.New("recognition api failure")
	// ErrConnectivity marks a transport error or timeout before any response.
	ErrConnectivity = errors.New("recognition connectivity failure")
)

// Client wraps the outbound call to the cloud plate-recognition API. It is a
// pure request/response mapping: no retries, no state beyond the HTTP client.
type Client struct {
	endpoint string
	token    string
	client   *http.Client
	log      zerolog.Logger
}

func NewClient(endpoint, token string, timeout time.Duration, log zerolog.Logger) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if timeout <= 0 {
		// Cloud latency is unpredictable; generous but bounded so a hung
		// call cannot stall a session indefinitely.
		timeout = 60 * time.Second
	}
	return &Client{
		endpoint: endpoint,
		token:    token,
		client:   &http.Client{Timeout: timeout},
		log:      log.With().Str("component", "recognizer").Logger(),
	}
}

// Recognize submits one JPEG frame with optional region hints and returns the
// parsed result. Failures are classified as ErrAPIFailure or ErrConnectivity;
// nothing else escapes this boundary.
func (c *Client) Recognize(ctx context.Context, image []byte, regions []string) (*plates.RecognitionResult, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("upload", "image.jpg")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectivity, err)
	}
	if _, err := part.Write(image); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectivity, err)
	}
	for _, region := range regions {
		if err := writer.WriteField("regions", region); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConnectivity, err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectivity, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, &body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectivity, err)
	}
	req.Header.Set("Authorization", "Token "+c.token)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		c.log.Error().Err(err).Msg("recognition request failed")
		return nil, fmt.Errorf("%w: %v", ErrConnectivity, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		c.log.Error().Err(err).Msg("failed to read recognition response")
		return nil, fmt.Errorf("%w: %v", ErrConnectivity, err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		c.log.Error().
			Int("status", resp.StatusCode).
			Str("body", string(payload)).
			Msg("recognition api returned error")
		return nil, fmt.Errorf("%w: status %d", ErrAPIFailure, resp.StatusCode)
	}

	result := parseResult(payload)
	c.log.Debug().Int("results", len(result.Results)).Msg("recognition response ok")
	return result, nil
}

// wire structures mirror the external JSON contract; every field is optional
// and degrades to a zero default rather than failing the parse.
type wireOrientation struct {
	Angle *float64 `json:"angle"`
}

type wireResult struct {
	Plate      string          `json:"plate"`
	Score      *float64        `json:"score"`
	Confidence *float64        `json:"confidence"`
	Region     struct {
		Code string `json:"code"`
	} `json:"region"`
	Vehicle struct {
		Type  string  `json:"type"`
		Score float64 `json:"score"`
	} `json:"vehicle"`
	Box         plates.Box      `json:"box"`
	Orientation json.RawMessage `json:"orientation"`
}

type wireResponse struct {
	Results []wireResult       `json:"results"`
	Usage   *plates.UsageStats `json:"usage"`
}

func parseResult(payload []byte) *plates.RecognitionResult {
	var wire wireResponse
	if err := json.Unmarshal(payload, &wire); err != nil {
		// Malformed body on a 200 still yields an empty, fully-typed result.
		return &plates.RecognitionResult{}
	}

	result := &plates.RecognitionResult{
		Results: make([]plates.Detection, 0, len(wire.Results)),
		Usage:   wire.Usage,
	}
	for _, item := range wire.Results {
		det := plates.Detection{
			Plate:      item.Plate,
			RegionCode: item.Region.Code,
			Box:        item.Box,
		}
		switch {
		case item.Score != nil:
			det.Confidence = *item.Score
		case item.Confidence != nil:
			det.Confidence = *item.Confidence
		}
		det.Vehicle = plates.VehicleInfo{Type: item.Vehicle.Type, Score: item.Vehicle.Score}
		if det.Vehicle.Type == "" {
			det.Vehicle.Type = "unknown"
		}
		det.Angle = parseAngle(item.Orientation)
		result.Results = append(result.Results, det)
	}
	return result
}

// parseAngle tolerates both orientation shapes the API has used: a list of
// orientation objects and a single object.
func parseAngle(raw json.RawMessage) *float64 {
	if len(raw) == 0 {
		return nil
	}
	var list []wireOrientation
	if err := json.Unmarshal(raw, &list); err == nil {
		if len(list) > 0 {
			return list[0].Angle
		}
		return nil
	}
	var single wireOrientation
	if err := json.Unmarshal(raw, &single); err == nil {
		return single.Angle
	}
	return nil
}
