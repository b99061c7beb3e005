package service

// Reason names why a ballot was rejected. The empty Reason means accepted.
type Reason string

const (
	ReasonInvalidBallot              Reason = "invalid_ballot"
	ReasonVotingClosed               Reason = "voting_closed"
	ReasonAlreadyVoted               Reason = "already_voted"
	ReasonUnknownCandidate           Reason = "unknown_candidate"
	ReasonUnknownCategory            Reason = "unknown_category"
	ReasonUnsupportedSignatureFormat Reason = "unsupported_signature_format"
	ReasonVerificationUnavailable    Reason = "verification_unavailable"
	ReasonInvalidSignature           Reason = "invalid_signature"
	ReasonStorageFailure             Reason = "storage_failure"
)

// Result is the terminal state of one submission.
type Result struct {
	Reason  Reason
	Message string
	TraceID string
	// Err is the underlying cause for infrastructure rejections. It is never
	// shown to clients.
	Err error
}

// Accepted reports whether the ballot was stored.
func (r Result) Accepted() bool {
	return r.Reason == ""
}
