package verification

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"unionvote/internal/voting/models"
	id "unionvote/pkg/domain"
	"unionvote/pkg/platform/circuit"
	"unionvote/pkg/platform/sentinel"
)

func biometricServer(t *testing.T, status int, resp biometricResponse) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/verify", r.URL.Path)
		var req biometricRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.NotEmpty(t, req.SampleRef)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func biometricRequestFor() models.VerificationRequest {
	return models.VerificationRequest{MemberID: id.NewMemberID(), Method: models.VerificationBiometric, Evidence: "sample-42"}
}

func TestBiometricClientThreshold(t *testing.T) {
	tests := []struct {
		name     string
		resp     biometricResponse
		verified bool
		reason   string
	}{
		{"confident match", biometricResponse{Match: true, Confidence: 0.93, Digest: "d1"}, true, ""},
		{"match below threshold", biometricResponse{Match: true, Confidence: 0.6}, false, "low_confidence"},
		{"no match", biometricResponse{Match: false, Confidence: 0.1}, false, "no_match"},
		{"no match with reason", biometricResponse{Match: false, Reason: "liveness_failed"}, false, "liveness_failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := biometricServer(t, http.StatusOK, tt.resp)
			res, err := NewBiometricClient(srv.URL, 0.85).Verify(context.Background(), biometricRequestFor())
			require.NoError(t, err)
			assert.Equal(t, tt.verified, res.Verified)
			assert.Equal(t, tt.reason, res.FailureReason)
			require.NotNil(t, res.Confidence)
			assert.InDelta(t, tt.resp.Confidence, *res.Confidence, 1e-9)
		})
	}
}

func TestBiometricClientBreakerOpens(t *testing.T) {
	srv := biometricServer(t, http.StatusServiceUnavailable, biometricResponse{})
	breaker := circuit.New("biometric-test", circuit.WithFailureThreshold(2), circuit.WithCooldown(time.Minute))
	client := NewBiometricClient(srv.URL, 0.85, WithBreaker(breaker))

	for range 2 {
		_, err := client.Verify(context.Background(), biometricRequestFor())
		assert.ErrorIs(t, err, sentinel.ErrUnavailable)
	}
	assert.True(t, breaker.IsOpen())

	_, err := client.Verify(context.Background(), biometricRequestFor())
	assert.ErrorIs(t, err, sentinel.ErrUnavailable)
	assert.Contains(t, err.Error(), "circuit open")
}

func TestBiometricClientHonorsContext(t *testing.T) {
	srv := biometricServer(t, http.StatusOK, biometricResponse{Match: true, Confidence: 1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewBiometricClient(srv.URL, 0.5).Verify(ctx, biometricRequestFor())
	assert.ErrorIs(t, err, context.Canceled)
}
