package usecase

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/leadrgg/leadr-core/internal/core/domain"
)

type submissionFixture struct {
	svc    *SubmissionService
	scores *fakeScores
	meta   *fakeMeta
	flags  *fakeFlags
	tx     *fakeTransactor
	events *recordingEvents
	clock  *steppingClock
}

func newSubmissionFixture(t *testing.T, ledgerRows ...domain.ScoreSubmissionMeta) *submissionFixture {
	t.Helper()

	clock := newSteppingClock(screeningNow)
	boards := newFakeBoards(
		domain.Board{ID: "board-1", AccountID: "acc-1", GameID: "game-1"},
		domain.Board{ID: "board-2", AccountID: "acc-1", GameID: "game-2"},
	)
	games := newFakeGames(
		domain.Game{ID: "game-1", AccountID: "acc-1", AntiCheatEnabled: true},
		domain.Game{ID: "game-2", AccountID: "acc-1", AntiCheatEnabled: false},
	)
	f := &submissionFixture{
		scores: &fakeScores{},
		meta:   newFakeMeta(ledgerRows...),
		flags:  newFakeFlags(),
		events: &recordingEvents{},
		clock:  clock,
	}
	f.tx = &fakeTransactor{scores: f.scores, meta: f.meta, flags: f.flags}
	antiCheat := NewAntiCheatService(f.meta, boards, DefaultPolicy(), zaptest.NewLogger(t)).WithClock(clock.Now)
	f.svc = NewSubmissionService(boards, games, f.tx, antiCheat, f.events, zaptest.NewLogger(t)).
		WithClock(clock.Now)
	return f
}

func submitInput(value float64) SubmitInput {
	return SubmitInput{
		AccountID:  "acc-1",
		GameID:     "game-1",
		BoardID:    "board-1",
		DeviceID:   "dev-1",
		PlayerName: "SpeedRunner99",
		Value:      value,
	}
}

func TestSubmitFirstScoreOpensLedger(t *testing.T) {
	f := newSubmissionFixture(t)

	result, err := f.svc.Submit(context.Background(), submitInput(123.45))
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	if result.Score == nil || result.Verdict == nil || !result.Verdict.IsAccept() || result.Flag != nil {
		t.Fatalf("unexpected result %+v", result)
	}

	row, ok := f.meta.only("dev-1", "board-1")
	if !ok || row.SubmissionCount != 1 || row.ScoreID != result.Score.ID || *row.LastScoreValue != 123.45 {
		t.Fatalf("unexpected ledger %+v", row)
	}
}

func TestSubmitDuplicateIsStoredAndFlagged(t *testing.T) {
	f := newSubmissionFixture(t)
	ctx := context.Background()

	if _, err := f.svc.Submit(ctx, submitInput(500)); err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	f.clock.Advance(10 * time.Second)

	result, err := f.svc.Submit(ctx, submitInput(500))
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	if result.Score == nil || result.Verdict.Action != domain.FlagActionFlag || *result.Verdict.FlagType != domain.FlagTypeDuplicate {
		t.Fatalf("expected stored duplicate flag, got %+v", result)
	}
	if result.Flag == nil || result.Flag.ScoreID == nil || *result.Flag.ScoreID != result.Score.ID {
		t.Fatalf("expected flag to reference the stored score, got %+v", result.Flag)
	}
	if f.scores.count() != 2 {
		t.Fatalf("expected both scores stored, got %d", f.scores.count())
	}
	if row, _ := f.meta.only("dev-1", "board-1"); row.SubmissionCount != 2 {
		t.Fatalf("expected ledger count 2, got %d", row.SubmissionCount)
	}
	if len(f.events.screened) != 1 || f.events.screened[0].Action != domain.FlagActionFlag {
		t.Fatalf("unexpected screened events %+v", f.events.screened)
	}
}

func TestSubmitRejectionStoresNothing(t *testing.T) {
	f := newSubmissionFixture(t, *ledger(50, 5*time.Minute, 1))

	result, err := f.svc.Submit(context.Background(), submitInput(2))
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	if !result.Rejected() || result.Score != nil {
		t.Fatalf("expected rejection without score, got %+v", result)
	}
	if f.scores.count() != 0 {
		t.Fatalf("rejected submissions must not be stored, got %d", f.scores.count())
	}
	if row, _ := f.meta.only("dev-1", "board-1"); row.SubmissionCount != 50 {
		t.Fatalf("rejections must not touch the ledger, count=%d", row.SubmissionCount)
	}

	flags := f.flags.all()
	if len(flags) != 1 || flags[0].ScoreID != nil || flags[0].FlagType != domain.FlagTypeRateLimit {
		t.Fatalf("expected a score-less rate limit flag, got %+v", flags)
	}
	if len(f.events.screened) != 1 || f.events.screened[0].Action != domain.FlagActionReject || f.events.screened[0].ScoreID != nil {
		t.Fatalf("unexpected screened events %+v", f.events.screened)
	}
}

func TestSubmitUsesCallerTier(t *testing.T) {
	f := newSubmissionFixture(t, *ledger(20, 5*time.Minute, 1))

	input := submitInput(2)
	input.TrustTier = domain.TrustTierA
	result, err := f.svc.Submit(context.Background(), input)
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	if result.Rejected() {
		t.Fatal("tier A must allow 20 submissions in the window")
	}

	input.TrustTier = domain.TrustTierC
	result, err = f.svc.Submit(context.Background(), input)
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	if !result.Rejected() {
		t.Fatalf("tier C ceiling is 20, got %+v", result.Verdict)
	}
}

func TestSubmitSkipsScreeningWhenDisabled(t *testing.T) {
	f := newSubmissionFixture(t)

	input := submitInput(1)
	input.GameID = "game-2"
	input.BoardID = "board-2"
	result, err := f.svc.Submit(context.Background(), input)
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	if result.Verdict != nil || result.Score == nil {
		t.Fatalf("expected unscreened stored score, got %+v", result)
	}
	if _, ok := f.meta.only("dev-1", "board-2"); ok {
		t.Fatal("ledger is only kept for screened games")
	}
}

func TestSubmitValidatesBoardOwnership(t *testing.T) {
	f := newSubmissionFixture(t)
	ctx := context.Background()

	missing := submitInput(1)
	missing.BoardID = "board-9"
	if _, err := f.svc.Submit(ctx, missing); !errors.Is(err, ErrBoardNotFound) {
		t.Fatalf("expected ErrBoardNotFound, got %v", err)
	}

	foreign := submitInput(1)
	foreign.AccountID = "acc-2"
	if _, err := f.svc.Submit(ctx, foreign); !errors.Is(err, ErrBoardMismatch) {
		t.Fatalf("expected ErrBoardMismatch for account, got %v", err)
	}

	wrongGame := submitInput(1)
	wrongGame.BoardID = "board-2"
	if _, err := f.svc.Submit(ctx, wrongGame); !errors.Is(err, ErrBoardMismatch) {
		t.Fatalf("expected ErrBoardMismatch for game, got %v", err)
	}

	nan := submitInput(math.NaN())
	if _, err := f.svc.Submit(ctx, nan); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for NaN, got %v", err)
	}
	if f.scores.count() != 0 {
		t.Fatalf("nothing should be stored, got %d", f.scores.count())
	}
}

func TestSubmitLedgerFailureStoresNothing(t *testing.T) {
	f := newSubmissionFixture(t)
	f.meta.writeErr = errors.New("connection reset")
	ctx := context.Background()

	// Tier B allows 50 per window; a ledger that never advances must not let 60 through.
	for i := 0; i < 60; i++ {
		result, err := f.svc.Submit(ctx, submitInput(float64(i)))
		if err == nil {
			t.Fatalf("submission %d: expected ledger failure to surface, got %+v", i, result)
		}
		if errors.Is(err, ErrValidation) || errors.Is(err, ErrBoardMismatch) {
			t.Fatalf("submission %d: expected infrastructure error, got %v", i, err)
		}
		f.clock.Advance(time.Second)
	}

	if f.scores.count() != 0 {
		t.Fatalf("scores must roll back with the ledger, got %d", f.scores.count())
	}
	if _, ok := f.meta.only("dev-1", "board-1"); ok {
		t.Fatal("no ledger row expected")
	}
	if f.tx.commits != 0 || f.tx.rollbacks != 60 {
		t.Fatalf("expected 60 rollbacks, got commits=%d rollbacks=%d", f.tx.commits, f.tx.rollbacks)
	}
}

func TestSubmitFlagFailureRollsBackScoreAndLedger(t *testing.T) {
	f := newSubmissionFixture(t, *ledger(3, 10*time.Second, 500))
	f.flags.createErr = errors.New("disk full")

	if _, err := f.svc.Submit(context.Background(), submitInput(500)); err == nil {
		t.Fatal("expected flag write failure to surface")
	}
	if f.scores.count() != 0 {
		t.Fatalf("expected score to roll back, got %d", f.scores.count())
	}
	if row, _ := f.meta.only("dev-1", "board-1"); row.SubmissionCount != 3 {
		t.Fatalf("expected ledger to roll back, count=%d", row.SubmissionCount)
	}
	if len(f.events.screened) != 0 {
		t.Fatalf("nothing committed, nothing published: %+v", f.events.screened)
	}
}

func TestSubmitRejectionFlagFailureSurfaces(t *testing.T) {
	f := newSubmissionFixture(t, *ledger(50, 5*time.Minute, 1))
	f.flags.createErr = errors.New("disk full")

	if _, err := f.svc.Submit(context.Background(), submitInput(2)); err == nil {
		t.Fatal("expected rejection flag failure to surface")
	}
	if len(f.events.screened) != 0 {
		t.Fatalf("unexpected screened events %+v", f.events.screened)
	}
}

func TestSubmitRetriesAfterConcurrentFirstSubmission(t *testing.T) {
	f := newSubmissionFixture(t)
	f.meta.racer = ledger(3, 5*time.Minute, 1)

	result, err := f.svc.Submit(context.Background(), submitInput(9))
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	if f.scores.count() != 1 {
		t.Fatalf("expected exactly one stored score, got %d", f.scores.count())
	}
	row, ok := f.meta.only("dev-1", "board-1")
	if !ok || row.SubmissionCount != 4 || row.ScoreID != result.Score.ID {
		t.Fatalf("expected submission recorded onto the concurrent ledger row, got %+v", row)
	}
	if f.tx.rollbacks != 1 || f.tx.commits != 1 {
		t.Fatalf("expected one retry, got commits=%d rollbacks=%d", f.tx.commits, f.tx.rollbacks)
	}
}
