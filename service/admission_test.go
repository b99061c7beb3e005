package service

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ballot-backend/catalog"
	"ballot-backend/models"
	"ballot-backend/signature"
	"ballot-backend/storage"
)

type stubVerifier struct {
	calls int32
	valid bool
	err   error
	delay time.Duration
}

func (v *stubVerifier) Verify(ctx context.Context, _ models.Vote) (bool, error) {
	atomic.AddInt32(&v.calls, 1)
	if v.delay > 0 {
		time.Sleep(v.delay)
	}
	return v.valid, v.err
}

func (v *stubVerifier) Calls() int {
	return int(atomic.LoadInt32(&v.calls))
}

type failingStore struct {
	storage.BallotStore
	existsErr  error
	persistErr error
}

func (f failingStore) Exists(ctx context.Context, addr, category string) (bool, error) {
	if f.existsErr != nil {
		return false, f.existsErr
	}
	return f.BallotStore.Exists(ctx, addr, category)
}

func (f failingStore) Persist(ctx context.Context, vote models.Vote) error {
	if f.persistErr != nil {
		return f.persistErr
	}
	return f.BallotStore.Persist(ctx, vote)
}

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	cat, err := catalog.New(
		[]models.Candidate{{Slug: "alice", Name: "Alice"}, {Slug: "bob", Name: "Bob"}},
		[]models.Category{{Slug: "2024", Name: "2024"}, {Slug: "best-dev", Name: "Best dev"}},
	)
	require.NoError(t, err)
	return cat
}

func ballot() models.Vote {
	return models.Vote{
		Addr:          "A1",
		Msg:           "deadbeef",
		Signature:     "feedface",
		CandidateSlug: "alice",
		CategorySlug:  "2024",
	}
}

func newTestService(t *testing.T, store storage.BallotStore, verifier signature.Verifier) *AdmissionService {
	t.Helper()
	if store == nil {
		store = storage.NewFileStore(t.TempDir(), nil)
	}
	return NewAdmissionService(Dependencies{
		Catalog:  testCatalog(t),
		Store:    store,
		Verifier: verifier,
	})
}

func TestSubmitEndToEnd(t *testing.T) {
	var oracleCalls int32
	oracle := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&oracleCalls, 1)
		w.Write([]byte("true"))
	}))
	defer oracle.Close()

	router := signature.NewRouter()
	router.Register("plain", signature.NewOracleClient(oracle.URL, time.Second, nil))
	svc := newTestService(t, nil, router)
	ctx := context.Background()

	res := svc.Submit(ctx, ballot())
	require.True(t, res.Accepted(), res.Message)
	assert.NotEmpty(t, res.TraceID)

	votes, err := svc.VotesByAddress(ctx, "A1")
	require.NoError(t, err)
	require.Len(t, votes, 1)
	assert.Equal(t, "alice", votes[0].CandidateSlug)
	assert.Equal(t, "plain", votes[0].SigFormat)
	assert.NotZero(t, votes[0].TimeMs)

	res = svc.Submit(ctx, ballot())
	assert.Equal(t, ReasonAlreadyVoted, res.Reason)
	assert.Equal(t, "A1 (2024) Already voted.", res.Message)
	assert.Equal(t, int32(1), atomic.LoadInt32(&oracleCalls))

	m := svc.Metrics()
	assert.Equal(t, 2, m.Submissions)
	assert.Equal(t, 1, m.Accepted)
	assert.Equal(t, 1, m.Rejected[ReasonAlreadyVoted])
	assert.Equal(t, 1, m.Verification.Count)
}

func TestSubmitOtherCategoryIsIndependent(t *testing.T) {
	svc := newTestService(t, nil, &stubVerifier{valid: true})
	ctx := context.Background()

	require.True(t, svc.Submit(ctx, ballot()).Accepted())

	other := ballot()
	other.CategorySlug = "best-dev"
	other.CandidateSlug = "bob"
	require.True(t, svc.Submit(ctx, other).Accepted())

	votes, err := svc.VotesByAddress(ctx, "A1")
	require.NoError(t, err)
	assert.Len(t, votes, 2)
}

func TestSubmitLocalRejectionsSkipVerifier(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(v *models.Vote)
		reason Reason
	}{
		{"unknown candidate", func(v *models.Vote) { v.CandidateSlug = "carol" }, ReasonUnknownCandidate},
		{"unknown category", func(v *models.Vote) { v.CategorySlug = "1999" }, ReasonUnknownCategory},
		{"missing addr", func(v *models.Vote) { v.Addr = "" }, ReasonInvalidBallot},
		{"missing signature", func(v *models.Vote) { v.Signature = " " }, ReasonInvalidBallot},
		{"non-hex msg", func(v *models.Vote) { v.Msg = "hello" }, ReasonInvalidBallot},
		{"odd-length random", func(v *models.Vote) { v.Random = "abc" }, ReasonInvalidBallot},
		{"path in addr", func(v *models.Vote) { v.Addr = "../../etc" }, ReasonInvalidBallot},
		{"dash in addr", func(v *models.Vote) { v.Addr = "A-1" }, ReasonInvalidBallot},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			verifier := &stubVerifier{valid: true}
			store := storage.NewFileStore(t.TempDir(), nil)
			svc := newTestService(t, store, verifier)

			vote := ballot()
			c.mutate(&vote)
			res := svc.Submit(context.Background(), vote)

			assert.Equal(t, c.reason, res.Reason)
			assert.NotEmpty(t, res.Message)
			assert.Equal(t, 0, verifier.Calls(), "verifier must not be called")

			all, err := store.All(context.Background())
			require.NoError(t, err)
			assert.Empty(t, all)
		})
	}
}

func TestSubmitAlreadyVotedSkipsVerifier(t *testing.T) {
	store := storage.NewFileStore(t.TempDir(), nil)
	require.NoError(t, store.Persist(context.Background(), ballot()))

	verifier := &stubVerifier{valid: true}
	svc := newTestService(t, store, verifier)

	res := svc.Submit(context.Background(), ballot())
	assert.Equal(t, ReasonAlreadyVoted, res.Reason)
	assert.Equal(t, 0, verifier.Calls())
}

func TestSubmitSignatureOutcomes(t *testing.T) {
	cases := []struct {
		name     string
		verifier *stubVerifier
		reason   Reason
	}{
		{"invalid signature", &stubVerifier{valid: false}, ReasonInvalidSignature},
		{"oracle unreachable", &stubVerifier{err: fmt.Errorf("%w: refused", signature.ErrOracleUnreachable)}, ReasonVerificationUnavailable},
		{"oracle garbage", &stubVerifier{err: fmt.Errorf("%w: \"maybe\"", signature.ErrOracleResponse)}, ReasonVerificationUnavailable},
		{"unsupported format", &stubVerifier{err: signature.ErrUnsupportedFormat}, ReasonUnsupportedSignatureFormat},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			store := storage.NewFileStore(t.TempDir(), nil)
			svc := newTestService(t, store, c.verifier)

			res := svc.Submit(context.Background(), ballot())
			assert.Equal(t, c.reason, res.Reason)
			assert.Equal(t, 1, c.verifier.Calls())

			exists, err := store.Exists(context.Background(), "A1", "2024")
			require.NoError(t, err)
			assert.False(t, exists, "rejected ballots are never stored")
		})
	}
}

func TestSubmitOracleTimeout(t *testing.T) {
	release := make(chan struct{})
	oracle := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer oracle.Close()
	defer close(release)

	router := signature.NewRouter()
	router.Register("plain", signature.NewOracleClient(oracle.URL, 50*time.Millisecond, nil))
	svc := newTestService(t, nil, router)

	res := svc.Submit(context.Background(), ballot())
	assert.Equal(t, ReasonVerificationUnavailable, res.Reason)
	assert.ErrorIs(t, res.Err, signature.ErrOracleUnreachable)
}

func TestSubmitUnsupportedFormatBeforeIO(t *testing.T) {
	inner := &stubVerifier{valid: true}
	router := signature.NewRouter()
	router.Register("plain", inner)
	store := failingStore{BallotStore: storage.NewFileStore(t.TempDir(), nil), existsErr: errors.New("must not be reached")}
	svc := newTestService(t, store, router)

	vote := ballot()
	vote.SigFormat = "ledger"
	res := svc.Submit(context.Background(), vote)
	assert.Equal(t, ReasonUnsupportedSignatureFormat, res.Reason)
	assert.Equal(t, 0, inner.Calls())
}

func TestSubmitStorageFailure(t *testing.T) {
	base := storage.NewFileStore(t.TempDir(), nil)

	t.Run("persist", func(t *testing.T) {
		verifier := &stubVerifier{valid: true}
		store := failingStore{BallotStore: base, persistErr: &storage.StoreError{Op: "persist", Err: errors.New("disk full")}}
		svc := newTestService(t, store, verifier)

		res := svc.Submit(context.Background(), ballot())
		assert.Equal(t, ReasonStorageFailure, res.Reason)
		assert.Equal(t, 1, verifier.Calls(), "verification ran, the vote still does not count")
		assert.NotContains(t, res.Message, "disk full")
	})

	t.Run("exists", func(t *testing.T) {
		verifier := &stubVerifier{valid: true}
		store := failingStore{BallotStore: base, existsErr: errors.New("permission denied")}
		svc := newTestService(t, store, verifier)

		res := svc.Submit(context.Background(), ballot())
		assert.Equal(t, ReasonStorageFailure, res.Reason)
		assert.Equal(t, 0, verifier.Calls())
	})
}

func TestSubmitVotingWindow(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	verifier := &stubVerifier{valid: true}
	svc := NewAdmissionService(Dependencies{
		Catalog:  testCatalog(t),
		Store:    storage.NewFileStore(t.TempDir(), nil),
		Verifier: verifier,
		Session:  NewVotingSession(now.Add(time.Hour), time.Time{}),
		Clock:    func() time.Time { return now },
	})

	res := svc.Submit(context.Background(), ballot())
	assert.Equal(t, ReasonVotingClosed, res.Reason)
	assert.Equal(t, 0, verifier.Calls())
}

func TestSubmitDefaultsTimestamp(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	store := storage.NewFileStore(t.TempDir(), nil)
	svc := NewAdmissionService(Dependencies{
		Catalog:  testCatalog(t),
		Store:    store,
		Verifier: &stubVerifier{valid: true},
		Clock:    func() time.Time { return now },
	})

	require.True(t, svc.Submit(context.Background(), ballot()).Accepted())
	votes, err := store.ListByAddress(context.Background(), "A1")
	require.NoError(t, err)
	require.Len(t, votes, 1)
	assert.Equal(t, now.UnixMilli(), votes[0].TimeMs)
}

func runRace(t *testing.T, services []*AdmissionService, n int) (accepted, duplicates int) {
	t.Helper()
	var wg sync.WaitGroup
	results := make(chan Result, n)
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			vote := ballot()
			if i%2 == 1 {
				vote.CandidateSlug = "bob"
			}
			results <- services[i%len(services)].Submit(context.Background(), vote)
		}(i)
	}
	close(start)
	wg.Wait()
	close(results)

	for res := range results {
		switch {
		case res.Accepted():
			accepted++
		case res.Reason == ReasonAlreadyVoted:
			duplicates++
		default:
			t.Fatalf("unexpected rejection: %s (%v)", res.Reason, res.Err)
		}
	}
	return accepted, duplicates
}

func TestConcurrentSubmissionsSameKey(t *testing.T) {
	const n = 50
	store := storage.NewFileStore(t.TempDir(), nil)
	svc := newTestService(t, store, &stubVerifier{valid: true, delay: 5 * time.Millisecond})

	accepted, duplicates := runRace(t, []*AdmissionService{svc}, n)
	assert.Equal(t, 1, accepted)
	assert.Equal(t, n-1, duplicates)

	votes, err := store.ListByAddress(context.Background(), "A1")
	require.NoError(t, err)
	assert.Len(t, votes, 1)
	assert.Equal(t, 0, svc.locks.size(), "per-key locks are released")
}

func TestConcurrentSubmissionsAcrossInstances(t *testing.T) {
	// Separate services share only the data directory, like two processes.
	const n = 40
	dataPath := t.TempDir()
	var services []*AdmissionService
	for i := 0; i < 4; i++ {
		services = append(services, newTestService(t,
			storage.NewFileStore(filepath.Clean(dataPath), nil),
			&stubVerifier{valid: true, delay: 2 * time.Millisecond},
		))
	}

	accepted, duplicates := runRace(t, services, n)
	assert.Equal(t, 1, accepted)
	assert.Equal(t, n-1, duplicates)
}

func TestSubmitOneBallotPerEthereumKey(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	msg, err := hex.DecodeString("deadbeef")
	require.NoError(t, err)
	sig, err := crypto.Sign(signature.PersonalMessageHash(msg), key)
	require.NoError(t, err)

	checksum := crypto.PubkeyToAddress(key.PublicKey).Hex()
	lower := strings.ToLower(checksum)

	router := signature.NewRouter()
	router.Register(signature.FormatEIP191, signature.NewEthereumVerifier())
	store := storage.NewFileStore(t.TempDir(), nil)
	svc := newTestService(t, store, router)
	ctx := context.Background()

	var accepted, duplicates int
	for _, addr := range []string{checksum, lower, strings.TrimPrefix(lower, "0x")} {
		vote := ballot()
		vote.Addr = addr
		vote.Signature = hex.EncodeToString(sig)
		vote.SigFormat = signature.FormatEIP191

		res := svc.Submit(ctx, vote)
		switch {
		case res.Accepted():
			accepted++
		case res.Reason == ReasonAlreadyVoted:
			duplicates++
		default:
			t.Fatalf("%s: unexpected rejection %s: %s", addr, res.Reason, res.Message)
		}
	}
	assert.Equal(t, 1, accepted)
	assert.Equal(t, 2, duplicates)

	all, err := store.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, checksum, all[0].Addr)

	votes, err := svc.VotesByAddress(ctx, lower)
	require.NoError(t, err)
	assert.Len(t, votes, 1)
}

func TestSubmitSendsPrefixFreeMessage(t *testing.T) {
	var message atomic.Value
	oracle := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		message.Store(r.URL.Query().Get("message"))
		w.Write([]byte("true"))
	}))
	defer oracle.Close()

	router := signature.NewRouter()
	router.Register("plain", signature.NewOracleClient(oracle.URL, time.Second, nil))
	svc := newTestService(t, nil, router)

	vote := ballot()
	vote.Random = "0xaa"
	vote.Msg = "0Xbb"
	res := svc.Submit(context.Background(), vote)
	require.True(t, res.Accepted(), res.Message)
	assert.Equal(t, "aabb", message.Load())
}
