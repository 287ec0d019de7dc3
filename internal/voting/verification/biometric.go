package verification

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"unionvote/internal/voting/models"
	"unionvote/pkg/platform/circuit"
	"unionvote/pkg/platform/sentinel"
)

// BiometricClient calls an external matching service:
//
//	POST {baseURL}/v1/verify  {"member_id": "...", "sample_ref": "..."}
//	200 {"match": true, "confidence": 0.97, "digest": "..."}
//
// The evidence is a reference to a sample the client uploaded to the
// matcher, never the sample itself. Transport errors and 5xx responses trip
// the breaker; while it is open calls fail fast with sentinel.ErrUnavailable.
type BiometricClient struct {
	baseURL    string
	httpClient *http.Client
	threshold  float64
	breaker    *circuit.Breaker
}

type BiometricOption func(*BiometricClient)

func WithHTTPClient(c *http.Client) BiometricOption {
	return func(b *BiometricClient) {
		b.httpClient = c
	}
}

func WithBreaker(breaker *circuit.Breaker) BiometricOption {
	return func(b *BiometricClient) {
		b.breaker = breaker
	}
}

func NewBiometricClient(baseURL string, threshold float64, opts ...BiometricOption) *BiometricClient {
	b := &BiometricClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		threshold:  threshold,
		breaker:    circuit.New("biometric", circuit.WithCooldown(30*time.Second)),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

type biometricRequest struct {
	MemberID  string `json:"member_id"`
	SampleRef string `json:"sample_ref"`
}

type biometricResponse struct {
	Match      bool    `json:"match"`
	Confidence float64 `json:"confidence"`
	Digest     string  `json:"digest,omitempty"`
	Reason     string  `json:"reason,omitempty"`
}

func (b *BiometricClient) Verify(ctx context.Context, req models.VerificationRequest) (*models.VerificationResult, error) {
	if !b.breaker.Allow() {
		return nil, fmt.Errorf("biometric service circuit open: %w", sentinel.ErrUnavailable)
	}

	body, err := json.Marshal(biometricRequest{MemberID: req.MemberID.String(), SampleRef: req.Evidence})
	if err != nil {
		return nil, fmt.Errorf("encode biometric request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/v1/verify", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build biometric request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := b.httpClient.Do(httpReq)
	if err != nil {
		b.breaker.RecordFailure()
		return nil, fmt.Errorf("call biometric service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		b.breaker.RecordFailure()
		return nil, fmt.Errorf("biometric service returned %d: %w", resp.StatusCode, sentinel.ErrUnavailable)
	}
	b.breaker.RecordSuccess()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("biometric service returned %d", resp.StatusCode)
	}

	var out biometricResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode biometric response: %w", err)
	}

	confidence := out.Confidence
	result := &models.VerificationResult{
		Method:     models.VerificationBiometric,
		Confidence: &confidence,
		Digest:     out.Digest,
	}
	switch {
	case !out.Match:
		result.FailureReason = "no_match"
		if out.Reason != "" {
			result.FailureReason = out.Reason
		}
	case confidence < b.threshold:
		result.FailureReason = "low_confidence"
	default:
		result.Verified = true
	}
	return result, nil
}
