package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"ballot-backend/catalog"
	"ballot-backend/logging"
	"ballot-backend/models"
	"ballot-backend/signature"
	"ballot-backend/storage"
)

// formatChecker is implemented by verifiers that know their formats up front,
// such as signature.Router.
type formatChecker interface {
	Supports(format string) bool
}

// Dependencies wires an AdmissionService. Session, Metrics, Clock and Logger
// are optional.
type Dependencies struct {
	Catalog  *catalog.Catalog
	Store    storage.BallotStore
	Verifier signature.Verifier
	Session  VotingSession
	Metrics  *MetricsCollector
	Clock    func() time.Time
	Logger   log.FieldLogger
}

// AdmissionService decides whether a ballot counts. Local checks run before
// the network-bound signature check, and the only durable write is the final
// Persist.
type AdmissionService struct {
	catalog  *catalog.Catalog
	store    storage.BallotStore
	verifier signature.Verifier
	session  VotingSession
	metrics  *MetricsCollector
	locks    *keyLocker
	now      func() time.Time
	logger   *log.Entry
}

// NewAdmissionService creates a new admission service.
func NewAdmissionService(deps Dependencies) *AdmissionService {
	metrics := deps.Metrics
	if metrics == nil {
		metrics = NewMetricsCollector()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &AdmissionService{
		catalog:  deps.Catalog,
		store:    deps.Store,
		verifier: deps.Verifier,
		session:  deps.Session,
		metrics:  metrics,
		locks:    newKeyLocker(),
		now:      clock,
		logger:   logging.Module(deps.Logger, "service/admission"),
	}
}

// Submit runs one ballot through the admission pipeline. Every outcome,
// including infrastructure failures, is reported in the Result.
func (s *AdmissionService) Submit(ctx context.Context, vote models.Vote) Result {
	if vote.TimeMs == 0 {
		vote.TimeMs = s.now().UnixMilli()
	}
	if vote.SigFormat == "" {
		vote.SigFormat = models.DefaultSigFormat
	}
	// The lock and storage keys use the address, so it must have one spelling.
	vote.Addr = signature.CanonicalAddress(vote.Addr)

	traceID := uuid.NewString()
	logger := s.logger.WithFields(log.Fields{
		"trace_id":  traceID,
		"addr":      vote.Addr,
		"category":  vote.CategorySlug,
		"candidate": vote.CandidateSlug,
	})
	logger.WithField("event", "vote_submit_started").Debug("vote submission started")

	res := s.admit(ctx, vote)
	res.TraceID = traceID
	s.metrics.RecordOutcome(res)

	switch {
	case res.Accepted():
		logger.WithField("event", "vote_accepted").Info("vote accepted")
	case res.Err != nil:
		logger.WithFields(log.Fields{
			"event":  "vote_rejected",
			"reason": string(res.Reason),
			"error":  res.Err.Error(),
		}).Warn("vote rejected")
	default:
		logger.WithFields(log.Fields{
			"event":  "vote_rejected",
			"reason": string(res.Reason),
		}).Info("vote rejected")
	}
	return res
}

func (s *AdmissionService) admit(ctx context.Context, vote models.Vote) Result {
	// 0. Session window and ballot shape
	if !s.session.IsActive(s.now()) {
		return reject(ReasonVotingClosed, "Voting is closed")
	}
	if res, ok := s.validate(vote); !ok {
		return res
	}

	// Held through Persist so concurrent ballots for the same key serialize
	// here; the store's create-if-absent covers other processes.
	unlock := s.locks.Lock(vote.Addr + "\x00" + vote.CategorySlug)
	defer unlock()

	// 1. Duplicate check
	exists, err := s.store.Exists(ctx, vote.Addr, vote.CategorySlug)
	if err != nil {
		return rejectErr(ReasonStorageFailure, "Failed to read vote storage", err)
	}
	if exists {
		return alreadyVoted(vote)
	}

	// 2. Candidate must exist
	if !s.catalog.HasCandidate(vote.CandidateSlug) {
		return reject(ReasonUnknownCandidate, fmt.Sprintf("Vote candidate '%s' does not exist", vote.CandidateSlug))
	}

	// 3. Category must exist
	if !s.catalog.HasCategory(vote.CategorySlug) {
		return reject(ReasonUnknownCategory, fmt.Sprintf("Vote category '%s' does not exist", vote.CategorySlug))
	}

	// 4. Signature
	start := time.Now()
	valid, err := s.verifier.Verify(ctx, vote)
	s.metrics.RecordVerification(time.Since(start))
	switch {
	case errors.Is(err, signature.ErrUnsupportedFormat):
		return unsupportedFormat(vote)
	case err != nil:
		return rejectErr(ReasonVerificationUnavailable, "Signature verification is unavailable, try again later", err)
	case !valid:
		return reject(ReasonInvalidSignature, "Signature is not valid")
	}

	// 5. Persist
	if err := s.store.Persist(ctx, vote); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return alreadyVoted(vote)
		}
		return rejectErr(ReasonStorageFailure, "Failed to store vote, it was not counted", err)
	}
	return Result{}
}

func (s *AdmissionService) validate(vote models.Vote) (Result, bool) {
	required := []struct {
		name  string
		value string
	}{
		{"addr", vote.Addr},
		{"msg", vote.Msg},
		{"signature", vote.Signature},
		{"candidate_slug", vote.CandidateSlug},
		{"category_slug", vote.CategorySlug},
	}
	for _, field := range required {
		if strings.TrimSpace(field.value) == "" {
			return reject(ReasonInvalidBallot, fmt.Sprintf("Field '%s' is required", field.name)), false
		}
	}

	if !storage.ValidAddress(vote.Addr) {
		return reject(ReasonInvalidBallot, fmt.Sprintf("Address '%s' is not valid", vote.Addr)), false
	}
	if !storage.ValidKeyPart(vote.CategorySlug) {
		return reject(ReasonInvalidBallot, fmt.Sprintf("Category '%s' is not valid", vote.CategorySlug)), false
	}

	hexFields := []struct {
		name  string
		value string
	}{
		{"msg", vote.Msg},
		{"signature", vote.Signature},
		{"random", vote.Random},
	}
	for _, field := range hexFields {
		if field.value == "" {
			continue
		}
		if _, err := signature.DecodeHex(field.value); err != nil {
			return reject(ReasonInvalidBallot, fmt.Sprintf("Field '%s' must be base16: %v", field.name, err)), false
		}
	}

	if fc, ok := s.verifier.(formatChecker); ok && !fc.Supports(vote.SigFormat) {
		return unsupportedFormat(vote), false
	}
	return Result{}, true
}

func reject(reason Reason, msg string) Result {
	return Result{Reason: reason, Message: msg}
}

func rejectErr(reason Reason, msg string, err error) Result {
	return Result{Reason: reason, Message: msg, Err: err}
}

func alreadyVoted(vote models.Vote) Result {
	return reject(ReasonAlreadyVoted, fmt.Sprintf("%s (%s) Already voted.", vote.Addr, vote.CategorySlug))
}

func unsupportedFormat(vote models.Vote) Result {
	return reject(ReasonUnsupportedSignatureFormat, fmt.Sprintf("Signature format '%s' is not supported", vote.SigFormat))
}

// Candidates lists the catalog candidates.
func (s *AdmissionService) Candidates() []models.Candidate {
	return s.catalog.Candidates()
}

// Categories lists the catalog categories.
func (s *AdmissionService) Categories() []models.Category {
	return s.catalog.Categories()
}

// VotesByAddress lists the stored ballots cast by addr.
func (s *AdmissionService) VotesByAddress(ctx context.Context, addr string) ([]models.Vote, error) {
	return s.store.ListByAddress(ctx, signature.CanonicalAddress(addr))
}

// Metrics returns a snapshot of the admission counters.
func (s *AdmissionService) Metrics() MetricsResponse {
	return s.metrics.GetMetrics()
}
