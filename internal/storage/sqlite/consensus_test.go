package sqlite

import (
	"context"
	"errors"
	"testing"

	"github.com/borjamoskv/cortex/internal/types"
)

func TestVoteAdjustsConsensus(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, Options{})

	id, err := e.Store(ctx, StoreRequest{Project: "p", Content: "a disputed claim"})
	if err != nil {
		t.Fatal(err)
	}

	score, err := e.Vote(ctx, id, "agent-1", 1)
	if err != nil {
		t.Fatalf("Vote failed: %v", err)
	}
	if score != 1.1 {
		t.Errorf("score after one upvote = %v, want 1.1", score)
	}

	score, err = e.Vote(ctx, id, "agent-2", -1)
	if err != nil {
		t.Fatal(err)
	}
	if score != 1.0 {
		t.Errorf("score after balancing downvote = %v, want 1.0", score)
	}

	// Unvote removes agent-2's ballot.
	score, err = e.Vote(ctx, id, "agent-2", 0)
	if err != nil {
		t.Fatal(err)
	}
	if score != 1.1 {
		t.Errorf("score after unvote = %v, want 1.1", score)
	}
}

func TestVoteClampsScore(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, Options{})

	id, err := e.Store(ctx, StoreRequest{Project: "p", Content: "heavily disputed"})
	if err != nil {
		t.Fatal(err)
	}

	// Twelve downvotes would push 1 - 1.2 below zero; the floor holds.
	for i := 0; i < 12; i++ {
		agent := "critic-" + string(rune('a'+i))
		score, err := e.Vote(ctx, id, agent, -1)
		if err != nil {
			t.Fatal(err)
		}
		if score < 0 {
			t.Fatalf("score %v fell below the floor", score)
		}
	}
	fact, _ := e.GetFact(ctx, id)
	if fact.ConsensusScore != 0 {
		t.Errorf("floored score = %v, want 0", fact.ConsensusScore)
	}
	if fact.Confidence != types.ConfidenceDisputed {
		t.Errorf("confidence = %q, want disputed at low score", fact.Confidence)
	}
}

func TestVoteAutoVerifiesConfidence(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, Options{})

	id, err := e.Store(ctx, StoreRequest{Project: "p", Content: "widely endorsed"})
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		if _, err := e.Vote(ctx, id, "fan-"+string(rune('a'+i)), 1); err != nil {
			t.Fatal(err)
		}
	}
	fact, _ := e.GetFact(ctx, id)
	if fact.ConsensusScore != 1.5 {
		t.Errorf("score = %v, want 1.5", fact.ConsensusScore)
	}
	if fact.Confidence != types.ConfidenceVerified {
		t.Errorf("confidence = %q, want verified at score >= 1.5", fact.Confidence)
	}
}

func TestVoteValidation(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, Options{})

	id, _ := e.Store(ctx, StoreRequest{Project: "p", Content: "c"})
	if _, err := e.Vote(ctx, id, "a", 2); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("vote value 2: expected ErrInvalidInput, got %v", err)
	}
	if _, err := e.Vote(ctx, 9999, "a", 1); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing fact: expected ErrNotFound, got %v", err)
	}
}

func TestVoteV2ReputationWeighted(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, Options{})

	id, err := e.Store(ctx, StoreRequest{Project: "p", Content: "v2 voted claim"})
	if err != nil {
		t.Fatal(err)
	}
	agentID, err := e.RegisterAgent(ctx, "verifier", "ai", "", "default")
	if err != nil {
		t.Fatalf("RegisterAgent failed: %v", err)
	}
	if agentID == "" {
		t.Fatal("empty agent id")
	}

	score, err := e.VoteV2(ctx, id, agentID, 1, "checked")
	if err != nil {
		t.Fatalf("VoteV2 failed: %v", err)
	}
	// One upvote with full weight: 1 + (1·w)/w = 2.0, within the clamp.
	if score != 2.0 {
		t.Errorf("v2 score = %v, want 2.0", score)
	}
	if score > 2.0 {
		t.Errorf("score %v exceeds the ceiling", score)
	}

	if _, err := e.VoteV2(ctx, id, "no-such-agent", 1, ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown agent: expected ErrNotFound, got %v", err)
	}
}

func TestVotesAppendLedgerEntries(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, Options{})

	id, _ := e.Store(ctx, StoreRequest{Project: "p", Content: "c"})
	before, _ := e.LatestTxID(ctx)
	if _, err := e.Vote(ctx, id, "a", 1); err != nil {
		t.Fatal(err)
	}
	after, _ := e.LatestTxID(ctx)
	if after != before+1 {
		t.Errorf("vote did not append exactly one ledger entry: %d -> %d", before, after)
	}

	report, err := e.VerifyIntegrity(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !report.Valid {
		t.Errorf("ledger invalid after vote: %+v", report.Violations)
	}
}
