package eligibility

import (
	"context"
	"errors"
	"log/slog"

	membermodels "unionvote/internal/member/models"
	"unionvote/internal/voting/models"
	"unionvote/internal/voting/ports"
	id "unionvote/pkg/domain"
	dErrors "unionvote/pkg/domain-errors"
	"unionvote/pkg/platform/sentinel"
)

type InstanceReader interface {
	Get(ctx context.Context, votingID id.VotingID) (*models.Instance, error)
}

type BallotReader interface {
	HasCurrent(ctx context.Context, votingID id.VotingID, voterKey string) (bool, error)
}

// Service loads the facts Evaluate needs.
type Service struct {
	instances    InstanceReader
	ballots      BallotReader
	directory    ports.MemberDirectory
	ballotSecret string
	logger       *slog.Logger
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func New(instances InstanceReader, ballots BallotReader, directory ports.MemberDirectory, ballotSecret string, opts ...Option) (*Service, error) {
	if instances == nil || ballots == nil || directory == nil {
		return nil, errors.New("eligibility: instance store, ballot store and member directory are required")
	}
	if ballotSecret == "" {
		return nil, errors.New("eligibility: ballot secret is required")
	}
	s := &Service{
		instances:    instances,
		ballots:      ballots,
		directory:    directory,
		ballotSecret: ballotSecret,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// BallotSecret is the key used to derive secret-ballot voter keys.
func (s *Service) BallotSecret() string { return s.ballotSecret }

// CanVote answers the eligibility question for a member without side effects.
func (s *Service) CanVote(ctx context.Context, votingID id.VotingID, memberID id.MemberID) (Decision, error) {
	inst, err := s.instances.Get(ctx, votingID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return Decision{}, dErrors.New(dErrors.CodeNotFound, "voting not found")
		}
		return Decision{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load voting")
	}
	member, err := s.Member(ctx, memberID)
	if err != nil {
		return Decision{}, err
	}
	return s.Check(ctx, inst, member)
}

// Member looks up a member. Unknown members resolve to nil so they evaluate
// as not eligible instead of leaking directory contents.
func (s *Service) Member(ctx context.Context, memberID id.MemberID) (*membermodels.Member, error) {
	member, err := s.directory.GetMember(ctx, memberID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, nil
		}
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "member directory unavailable")
	}
	return member, nil
}

// Check evaluates against an already loaded instance. When ctx carries a
// transaction, the ballot lookup joins it.
func (s *Service) Check(ctx context.Context, inst *models.Instance, member *membermodels.Member) (Decision, error) {
	hasVoted := false
	if member != nil {
		var err error
		hasVoted, err = s.ballots.HasCurrent(ctx, inst.ID, models.VoterKey(s.ballotSecret, inst, member.ID))
		if err != nil {
			return Decision{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to check prior ballot")
		}
	}
	d := Evaluate(inst, member, hasVoted)
	if !d.Eligible && s.logger != nil {
		s.logger.DebugContext(ctx, "member not eligible",
			"voting_id", inst.ID,
			"reason", d.Reason,
		)
	}
	return d, nil
}

// CountEligible sizes the eligible universe used for participation.
func (s *Service) CountEligible(ctx context.Context, inst *models.Instance) (int64, error) {
	members, err := s.directory.ListActive(ctx)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeUnavailable, "member directory unavailable")
	}
	var n int64
	for i := range members {
		if InUniverse(inst, &members[i]) {
			n++
		}
	}
	return n, nil
}
