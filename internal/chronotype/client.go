package chronotype

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultRequestTimeout bounds a single classifier call.
const DefaultRequestTimeout = 3 * time.Second

// HTTPPredictor calls the classifier's /predict_chronotype endpoint.
type HTTPPredictor struct {
	baseURL string
	client  *http.Client
}

// NewHTTPPredictor creates a predictor for the classifier at baseURL.
func NewHTTPPredictor(baseURL string, timeout time.Duration) *HTTPPredictor {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return &HTTPPredictor{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

type predictRequest struct {
	ActivityPattern []float64 `json:"activity_pattern"`
}

type predictResponse struct {
	Chronotype int     `json:"chronotype"`
	Confidence float64 `json:"confidence"`
	Success    bool    `json:"success"`
	Error      string  `json:"error,omitempty"`
}

// Predict sends the 24-hour activity vector and decodes the classifier's
// verdict, rescaling confidence to the 0-1000 internal range.
func (p *HTTPPredictor) Predict(ctx context.Context, pattern [24]float64) (Prediction, error) {
	body, err := json.Marshal(predictRequest{ActivityPattern: pattern[:]})
	if err != nil {
		return Prediction{}, fmt.Errorf("encode predict request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/predict_chronotype", bytes.NewReader(body))
	if err != nil {
		return Prediction{}, fmt.Errorf("build predict request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return Prediction{}, fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return Prediction{}, fmt.Errorf("%w: status %d", ErrServiceUnavailable, resp.StatusCode)
	}

	var decoded predictResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&decoded); err != nil {
		return Prediction{}, fmt.Errorf("decode predict response: %w", err)
	}
	if !decoded.Success {
		return Prediction{}, fmt.Errorf("%w: %s", ErrServiceUnavailable, decoded.Error)
	}

	ct := Chronotype(decoded.Chronotype)
	if !ct.Valid() {
		ct = Intermediate
	}

	conf := decoded.Confidence
	if conf < 0 {
		conf = 0
	}
	if conf > 1 {
		conf = 1
	}

	return Prediction{
		Chronotype:    ct,
		ConfidenceBps: uint64(conf * 1000),
	}, nil
}
