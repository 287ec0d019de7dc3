// Package handler exposes the voting core over HTTP.
//
// Admin routes sit behind the operator token; member routes behind the
// member JWT. Handlers translate JSON to service calls and domain errors to
// status codes; all rules live in the services.
package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-webauthn/webauthn/protocol"

	"unionvote/internal/voting/eligibility"
	"unionvote/internal/voting/ledger"
	"unionvote/internal/voting/lifecycle"
	"unionvote/internal/voting/models"
	"unionvote/internal/voting/ports"
	id "unionvote/pkg/domain"
	dErrors "unionvote/pkg/domain-errors"
	"unionvote/pkg/platform/audit"
	"unionvote/pkg/platform/httputil"
	"unionvote/pkg/requestcontext"
)

type Lifecycle interface {
	Create(ctx context.Context, cmd lifecycle.CreateCommand) (*models.Instance, error)
	UpdateDraft(ctx context.Context, votingID id.VotingID, upd lifecycle.DraftUpdate) (*models.Instance, error)
	Get(ctx context.Context, votingID id.VotingID) (*models.Instance, error)
	List(ctx context.Context, statuses ...models.Status) ([]*models.Instance, error)
	Schedule(ctx context.Context, votingID id.VotingID) (*models.Instance, error)
	Activate(ctx context.Context, votingID id.VotingID, override bool) (*models.Instance, error)
	Pause(ctx context.Context, votingID id.VotingID) (*models.Instance, error)
	Resume(ctx context.Context, votingID id.VotingID) (*models.Instance, error)
	Close(ctx context.Context, votingID id.VotingID) (*models.Instance, *models.Tabulation, error)
	Cancel(ctx context.Context, votingID id.VotingID, reason string) (*models.Instance, *models.Tabulation, error)
	DeactivateOption(ctx context.Context, votingID id.VotingID, optionID id.OptionID) (*models.Instance, error)
	Anonymize(ctx context.Context, votingID id.VotingID) (int64, error)
	Sweep(ctx context.Context, now time.Time) (lifecycle.SweepReport, error)
}

type Ledger interface {
	CastBallot(ctx context.Context, req ledger.CastRequest) (*models.Ballot, error)
}

type Eligibility interface {
	CanVote(ctx context.Context, votingID id.VotingID, memberID id.MemberID) (eligibility.Decision, error)
}

type Results interface {
	Tabulate(ctx context.Context, votingID id.VotingID) (*models.Tabulation, error)
	Results(ctx context.Context, votingID id.VotingID) (*models.Tabulation, error)
}

// Passkeys runs WebAuthn ceremonies for biometric step-up.
type Passkeys interface {
	BeginRegistration(ctx context.Context, memberID id.MemberID) (*protocol.CredentialCreation, error)
	FinishRegistration(ctx context.Context, memberID id.MemberID, body []byte) error
	BeginChallenge(ctx context.Context, memberID id.MemberID) (*protocol.CredentialAssertion, error)
}

// memberStatuses are the statuses members can see; drafts stay private.
var memberStatuses = []models.Status{
	models.StatusScheduled,
	models.StatusActive,
	models.StatusPaused,
	models.StatusEnded,
	models.StatusCancelled,
}

type Handler struct {
	lifecycle      Lifecycle
	ledger         Ledger
	eligibility    Eligibility
	results        Results
	passkeys       Passkeys
	logger         *slog.Logger
	auditPublisher ports.AuditPublisher
}

type Option func(*Handler)

// WithPasskeys enables the passkey registration and challenge endpoints.
func WithPasskeys(p Passkeys) Option {
	return func(h *Handler) {
		h.passkeys = p
	}
}

func WithAuditPublisher(publisher ports.AuditPublisher) Option {
	return func(h *Handler) {
		h.auditPublisher = publisher
	}
}

func New(lc Lifecycle, ledger Ledger, elig Eligibility, results Results, logger *slog.Logger, opts ...Option) *Handler {
	h := &Handler{
		lifecycle:   lc,
		ledger:      ledger,
		eligibility: elig,
		results:     results,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterAdmin mounts operator endpoints. The caller applies the admin
// token middleware.
func (h *Handler) RegisterAdmin(r chi.Router) {
	r.Post("/votings", h.HandleCreate)
	r.Get("/votings", h.HandleAdminList)
	r.Get("/votings/{votingID}", h.HandleAdminGet)
	r.Patch("/votings/{votingID}", h.HandleUpdate)
	r.Post("/votings/{votingID}/schedule", h.HandleSchedule)
	r.Post("/votings/{votingID}/start", h.HandleStart)
	r.Post("/votings/{votingID}/pause", h.HandlePause)
	r.Post("/votings/{votingID}/resume", h.HandleResume)
	r.Post("/votings/{votingID}/end", h.HandleEnd)
	r.Post("/votings/{votingID}/cancel", h.HandleCancel)
	r.Post("/votings/{votingID}/tabulate", h.HandleTabulate)
	r.Post("/votings/{votingID}/anonymize", h.HandleAnonymize)
	r.Post("/votings/{votingID}/options/{optionID}/deactivate", h.HandleDeactivateOption)
	r.Get("/votings/{votingID}/results", h.HandleAdminResults)
	r.Post("/sweep", h.HandleSweep)
}

// RegisterMember mounts member endpoints. The caller applies the member
// auth middleware.
func (h *Handler) RegisterMember(r chi.Router) {
	r.Get("/votings", h.HandleList)
	r.Get("/votings/{votingID}", h.HandleGet)
	r.Get("/votings/{votingID}/eligibility", h.HandleEligibility)
	r.Post("/votings/{votingID}/ballots", h.HandleCastBallot)
	r.Get("/votings/{votingID}/results", h.HandleResults)
	r.Get("/votings/{votingID}/statistics", h.HandleStatistics)
	if h.passkeys != nil {
		r.Post("/passkeys/register/begin", h.HandlePasskeyRegisterBegin)
		r.Post("/passkeys/register/finish", h.HandlePasskeyRegisterFinish)
		r.Post("/passkeys/challenge", h.HandlePasskeyChallenge)
	}
}

func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	req, ok := httputil.DecodeAndPrepare[CreateVotingRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	cmd := req.Command()
	cmd.CreatedBy = "admin"
	inst, err := h.lifecycle.Create(ctx, cmd)
	if err != nil {
		h.fail(w, r, "create voting failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, inst)
}

func (h *Handler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	votingID, ok := h.votingID(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[UpdateVotingRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	inst, err := h.lifecycle.UpdateDraft(ctx, votingID, req.Update())
	if err != nil {
		h.fail(w, r, "update voting failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, inst)
}

func (h *Handler) HandleAdminList(w http.ResponseWriter, r *http.Request) {
	var statuses []models.Status
	for _, s := range r.URL.Query()["status"] {
		statuses = append(statuses, models.Status(s))
	}
	list, err := h.lifecycle.List(r.Context(), statuses...)
	if err != nil {
		h.fail(w, r, "list votings failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, VotingListResponse[*models.Instance]{Votings: list, Count: len(list)})
}

func (h *Handler) HandleAdminGet(w http.ResponseWriter, r *http.Request) {
	votingID, ok := h.votingID(w, r)
	if !ok {
		return
	}
	inst, err := h.lifecycle.Get(r.Context(), votingID)
	if err != nil {
		h.fail(w, r, "get voting failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, inst)
}

func (h *Handler) HandleSchedule(w http.ResponseWriter, r *http.Request) {
	h.simpleTransition(w, r, "schedule", h.lifecycle.Schedule)
}

func (h *Handler) HandlePause(w http.ResponseWriter, r *http.Request) {
	h.simpleTransition(w, r, "pause", h.lifecycle.Pause)
}

func (h *Handler) HandleResume(w http.ResponseWriter, r *http.Request) {
	h.simpleTransition(w, r, "resume", h.lifecycle.Resume)
}

// HandleDeactivateOption stops an option from receiving new ballots.
func (h *Handler) HandleDeactivateOption(w http.ResponseWriter, r *http.Request) {
	votingID, ok := h.votingID(w, r)
	if !ok {
		return
	}
	optionID, err := id.ParseOptionID(chi.URLParam(r, "optionID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	inst, err := h.lifecycle.DeactivateOption(r.Context(), votingID, optionID)
	if err != nil {
		h.fail(w, r, "deactivate option failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, inst)
}

func (h *Handler) HandleStart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	votingID, ok := h.votingID(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[StartRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	inst, err := h.lifecycle.Activate(ctx, votingID, req.Override)
	if err != nil {
		h.fail(w, r, "start voting failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, inst)
}

func (h *Handler) HandleEnd(w http.ResponseWriter, r *http.Request) {
	votingID, ok := h.votingID(w, r)
	if !ok {
		return
	}
	inst, tab, err := h.lifecycle.Close(r.Context(), votingID)
	if err != nil {
		h.fail(w, r, "end voting failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, TransitionResponse{Voting: inst, Results: tab})
}

func (h *Handler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	votingID, ok := h.votingID(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[CancelRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	inst, tab, err := h.lifecycle.Cancel(ctx, votingID, req.Reason)
	if err != nil {
		h.fail(w, r, "cancel voting failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, TransitionResponse{Voting: inst, Results: tab})
}

func (h *Handler) HandleTabulate(w http.ResponseWriter, r *http.Request) {
	votingID, ok := h.votingID(w, r)
	if !ok {
		return
	}
	tab, err := h.results.Tabulate(r.Context(), votingID)
	if err != nil {
		h.fail(w, r, "tabulation failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, tab)
}

func (h *Handler) HandleAnonymize(w http.ResponseWriter, r *http.Request) {
	votingID, ok := h.votingID(w, r)
	if !ok {
		return
	}
	n, err := h.lifecycle.Anonymize(r.Context(), votingID)
	if err != nil {
		h.fail(w, r, "anonymize ballots failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, AnonymizeResponse{VotingID: votingID, Anonymized: n})
}

func (h *Handler) HandleAdminResults(w http.ResponseWriter, r *http.Request) {
	votingID, ok := h.votingID(w, r)
	if !ok {
		return
	}
	tab, err := h.results.Results(r.Context(), votingID)
	if err != nil {
		h.fail(w, r, "load results failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, tab)
}

func (h *Handler) HandleSweep(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	now := requestcontext.Now(ctx)
	report, err := h.lifecycle.Sweep(ctx, now)
	if err != nil {
		h.fail(w, r, "sweep failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, SweepResponse{SweepReport: report, SweptAt: now})
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	list, err := h.lifecycle.List(r.Context(), memberStatuses...)
	if err != nil {
		h.fail(w, r, "list votings failed", err)
		return
	}
	out := make([]MemberVotingResponse, 0, len(list))
	for _, inst := range list {
		out = append(out, toMemberVoting(inst))
	}
	httputil.WriteJSON(w, http.StatusOK, VotingListResponse[MemberVotingResponse]{Votings: out, Count: len(out)})
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	inst, ok := h.memberVoting(w, r)
	if !ok {
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toMemberVoting(inst))
}

func (h *Handler) HandleEligibility(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	votingID, ok := h.votingID(w, r)
	if !ok {
		return
	}
	decision, err := h.eligibility.CanVote(ctx, votingID, requestcontext.MemberID(ctx))
	if err != nil {
		h.fail(w, r, "eligibility check failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, EligibilityResponse{
		VotingID: votingID,
		Eligible: decision.Eligible,
		Reason:   decision.Reason,
	})
}

func (h *Handler) HandleCastBallot(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()
	inst, ok := h.memberVoting(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[CastBallotRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}

	sel, err := req.Selection(inst.Type)
	if err != nil {
		h.fail(w, r, "cast ballot rejected", err)
		return
	}
	ballot, err := h.ledger.CastBallot(ctx, ledger.CastRequest{
		VotingID:     inst.ID,
		MemberID:     requestcontext.MemberID(ctx),
		Selection:    sel,
		Verification: req.VerificationRequest(),
		ClientIP:     requestcontext.ClientIP(ctx),
		UserAgent:    requestcontext.UserAgent(ctx),
	})
	if err != nil {
		h.fail(w, r, "cast ballot failed", err)
		return
	}

	h.logger.InfoContext(ctx, "ballot cast",
		"request_id", requestcontext.RequestID(ctx),
		"voting_id", inst.ID,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	httputil.WriteJSON(w, http.StatusCreated, toReceipt(ballot))
}

// HandleResults serves results to members. Instances that publish on close
// keep results hidden until they end.
func (h *Handler) HandleResults(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	inst, ok := h.memberVoting(w, r)
	if !ok {
		return
	}
	if !resultsVisible(inst) {
		httputil.WriteError(w, dErrors.New(dErrors.CodeForbidden, "results are published when the voting ends"))
		return
	}
	tab, err := h.results.Results(ctx, inst.ID)
	if err != nil {
		h.fail(w, r, "load results failed", err)
		return
	}
	subject := requestcontext.MemberID(ctx).String()
	ports.LogAudit(ctx, h.logger, h.auditPublisher, audit.Event{
		Action:   string(audit.EventResultsViewed),
		VotingID: inst.ID,
		Subject:  subject,
	})
	httputil.WriteJSON(w, http.StatusOK, tab)
}

func (h *Handler) HandleStatistics(w http.ResponseWriter, r *http.Request) {
	inst, ok := h.memberVoting(w, r)
	if !ok {
		return
	}
	resp := StatisticsResponse{
		VotingID:    inst.ID,
		Status:      inst.Status,
		Counters:    inst.Counters,
		ActualStart: inst.ActualStartAt,
		ActualEnd:   inst.ActualEndAt,
	}
	if resultsVisible(inst) {
		tab, err := h.results.Results(r.Context(), inst.ID)
		switch {
		case err == nil:
			resp.Summary = &tab.Summary
		case !dErrors.HasCode(err, dErrors.CodeNotFound):
			h.fail(w, r, "load results failed", err)
			return
		}
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) HandlePasskeyRegisterBegin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	creation, err := h.passkeys.BeginRegistration(ctx, requestcontext.MemberID(ctx))
	if err != nil {
		h.fail(w, r, "passkey registration failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, creation)
}

func (h *Handler) HandlePasskeyRegisterFinish(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	body, err := io.ReadAll(io.LimitReader(r.Body, 64<<10))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "could not read body"))
		return
	}
	if err := h.passkeys.FinishRegistration(ctx, requestcontext.MemberID(ctx), body); err != nil {
		h.fail(w, r, "passkey registration failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) HandlePasskeyChallenge(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	assertion, err := h.passkeys.BeginChallenge(ctx, requestcontext.MemberID(ctx))
	if err != nil {
		h.fail(w, r, "passkey challenge failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, assertion)
}

func resultsVisible(inst *models.Instance) bool {
	if inst.ResultsMode == models.ResultsRealtime {
		return inst.Status != models.StatusDraft && inst.Status != models.StatusScheduled
	}
	return inst.Status.IsTerminal()
}

func (h *Handler) simpleTransition(w http.ResponseWriter, r *http.Request, name string, fn func(context.Context, id.VotingID) (*models.Instance, error)) {
	votingID, ok := h.votingID(w, r)
	if !ok {
		return
	}
	inst, err := fn(r.Context(), votingID)
	if err != nil {
		h.fail(w, r, name+" voting failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, inst)
}

// memberVoting loads the path voting and hides drafts from members.
func (h *Handler) memberVoting(w http.ResponseWriter, r *http.Request) (*models.Instance, bool) {
	votingID, ok := h.votingID(w, r)
	if !ok {
		return nil, false
	}
	inst, err := h.lifecycle.Get(r.Context(), votingID)
	if err == nil && inst.Status == models.StatusDraft {
		err = dErrors.New(dErrors.CodeNotFound, "voting not found")
	}
	if err != nil {
		h.fail(w, r, "get voting failed", err)
		return nil, false
	}
	return inst, true
}

func (h *Handler) votingID(w http.ResponseWriter, r *http.Request) (id.VotingID, bool) {
	votingID, err := id.ParseVotingID(chi.URLParam(r, "votingID"))
	if err != nil {
		httputil.WriteError(w, err)
		return id.VotingID{}, false
	}
	return votingID, true
}

// fail logs at a level matching the error class and writes the response.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	ctx := r.Context()
	code := dErrors.CodeOf(err)
	level := slog.LevelInfo
	if code == dErrors.CodeInternal || code == dErrors.CodeUnavailable {
		level = slog.LevelError
	}
	h.logger.Log(ctx, level, msg,
		"request_id", requestcontext.RequestID(ctx),
		"code", code,
		"error", err,
	)
	httputil.WriteError(w, err)
}
