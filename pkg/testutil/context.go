package testutil

import (
	"net/http"

	id "unionvote/pkg/domain"
	"unionvote/pkg/requestcontext"
)

// WithMember authenticates req as memberID, as the member auth middleware
// would after validating a token.
func WithMember(req *http.Request, memberID id.MemberID) *http.Request {
	return req.WithContext(requestcontext.WithMemberID(req.Context(), memberID))
}

// WithAdmin marks req as coming from an operator.
func WithAdmin(req *http.Request) *http.Request {
	return req.WithContext(requestcontext.WithAdmin(req.Context()))
}
