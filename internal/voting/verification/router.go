package verification

import (
	"context"

	"unionvote/internal/voting/models"
	"unionvote/internal/voting/ports"
	dErrors "unionvote/pkg/domain-errors"
)

// Router dispatches to the oracle registered for the request's method.
type Router struct {
	oracles map[models.VerificationMethod]ports.VerificationOracle
}

func NewRouter() *Router {
	return &Router{oracles: make(map[models.VerificationMethod]ports.VerificationOracle)}
}

// Register installs oracle for method; a nil oracle leaves the method
// unavailable.
func (r *Router) Register(method models.VerificationMethod, oracle ports.VerificationOracle) *Router {
	if oracle != nil {
		r.oracles[method] = oracle
	}
	return r
}

func (r *Router) Supports(method models.VerificationMethod) bool {
	_, ok := r.oracles[method]
	return ok
}

func (r *Router) Verify(ctx context.Context, req models.VerificationRequest) (*models.VerificationResult, error) {
	oracle, ok := r.oracles[req.Method]
	if !ok {
		return nil, dErrors.New(dErrors.CodeUnavailable, "no verifier configured for "+string(req.Method))
	}
	return oracle.Verify(ctx, req)
}
