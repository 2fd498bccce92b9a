package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/borjamoskv/cortex/internal/temporal"
	"github.com/borjamoskv/cortex/internal/types"
)

// Consensus scores are clamped to [0, 2] in both vote paths. The neutral
// starting point is 1.0.
const (
	consensusFloor = 0.0
	consensusCeil  = 2.0
)

func clampScore(score float64) float64 {
	if score < consensusFloor {
		return consensusFloor
	}
	if score > consensusCeil {
		return consensusCeil
	}
	return score
}

// Vote casts a v1 consensus vote: value ∈ {-1, 0, +1}, 0 removes the
// agent's vote. Returns the fact's recalculated score.
func (e *Engine) Vote(ctx context.Context, factID int64, agent string, value int) (float64, error) {
	if value < -1 || value > 1 {
		return 0, fmt.Errorf("%w: vote value must be -1, 0, or 1, got %d", ErrInvalidInput, value)
	}
	if agent == "" {
		return 0, fmt.Errorf("%w: agent cannot be empty", ErrInvalidInput)
	}
	if _, err := e.GetFact(ctx, factID); err != nil {
		return 0, err
	}

	tx, release, err := e.beginWrite(ctx)
	if err != nil {
		return 0, err
	}
	defer release()

	action := types.ActionVote
	if value == 0 {
		action = types.ActionUnvote
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM consensus_votes WHERE fact_id = ? AND agent = ?", factID, agent); err != nil {
			tx.Rollback()
			return 0, wrapDBError("unvote", err)
		}
	} else {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO consensus_votes (fact_id, agent, vote, timestamp) VALUES (?, ?, ?, ?)
			 ON CONFLICT(fact_id, agent) DO UPDATE SET vote = excluded.vote, timestamp = excluded.timestamp`,
			factID, agent, value, temporal.NowISO()); err != nil {
			tx.Rollback()
			return 0, wrapDBError("vote", err)
		}
	}

	if _, err := e.logTransaction(ctx, tx, "consensus", action,
		map[string]any{"fact_id": factID, "agent": agent, "vote": value}); err != nil {
		tx.Rollback()
		return 0, err
	}

	score, err := e.recalculateConsensus(ctx, tx, factID)
	if err != nil {
		tx.Rollback()
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit vote: %w", err)
	}
	return score, nil
}

// recalculateConsensus derives the v1 score: 1 + 0.1 per net vote, clamped.
func (e *Engine) recalculateConsensus(ctx context.Context, tx execer, factID int64) (float64, error) {
	var voteSum sql.NullInt64
	if err := tx.QueryRowContext(ctx,
		"SELECT SUM(vote) FROM consensus_votes WHERE fact_id = ?", factID).Scan(&voteSum); err != nil {
		return 0, wrapDBError("sum votes", err)
	}
	score := clampScore(1.0 + float64(voteSum.Int64)*0.1)
	if err := e.updateFactScore(ctx, tx, factID, score); err != nil {
		return 0, err
	}
	return score, nil
}

// updateFactScore writes the score and auto-promotes confidence: ≥1.5
// verified, ≤0.5 disputed.
func (e *Engine) updateFactScore(ctx context.Context, tx execer, factID int64, score float64) error {
	if _, err := tx.ExecContext(ctx,
		"UPDATE facts SET consensus_score = ? WHERE id = ?", score, factID); err != nil {
		return wrapDBError("update score", err)
	}
	var conf types.Confidence
	switch {
	case score >= 1.5:
		conf = types.ConfidenceVerified
	case score <= 0.5:
		conf = types.ConfidenceDisputed
	default:
		return nil
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE facts SET confidence = ? WHERE id = ?", string(conf), factID); err != nil {
		return wrapDBError("update confidence", err)
	}
	return nil
}

// RegisterAgent creates a consensus agent with a fresh UUID and the default
// reputation of 0.5.
func (e *Engine) RegisterAgent(ctx context.Context, name, agentType, publicKey, tenantID string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("%w: agent name cannot be empty", ErrInvalidInput)
	}
	if agentType == "" {
		agentType = "ai"
	}
	if tenantID == "" {
		tenantID = "default"
	}
	agentID := uuid.NewString()
	_, err := e.db.ExecContext(ctx,
		"INSERT INTO agents (id, name, agent_type, public_key, tenant_id, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		agentID, name, agentType, publicKey, tenantID, temporal.NowISO())
	if err != nil {
		return "", wrapDBError("register agent", err)
	}
	return agentID, nil
}

// VoteV2 casts a reputation-weighted vote by a registered agent. The score
// formula is 1 + Σ(vote·weight)/Σweight with weight = max(weight at vote,
// current reputation), clamped to [0, 2].
func (e *Engine) VoteV2(ctx context.Context, factID int64, agentID string, value int, reason string) (float64, error) {
	if value < -1 || value > 1 {
		return 0, fmt.Errorf("%w: vote value must be -1, 0, or 1, got %d", ErrInvalidInput, value)
	}
	if _, err := e.GetFact(ctx, factID); err != nil {
		return 0, err
	}

	tx, release, err := e.beginWrite(ctx)
	if err != nil {
		return 0, err
	}
	defer release()

	var rep float64
	err = tx.QueryRowContext(ctx,
		"SELECT reputation_score FROM agents WHERE id = ? AND is_active = 1", agentID).Scan(&rep)
	if errors.Is(err, sql.ErrNoRows) {
		tx.Rollback()
		return 0, fmt.Errorf("agent %s: %w", agentID, ErrNotFound)
	}
	if err != nil {
		tx.Rollback()
		return 0, wrapDBError("look up agent", err)
	}

	action := types.ActionVoteV2
	if value == 0 {
		action = types.ActionUnvoteV2
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM consensus_votes_v2 WHERE fact_id = ? AND agent_id = ?", factID, agentID); err != nil {
			tx.Rollback()
			return 0, wrapDBError("unvote v2", err)
		}
	} else {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO consensus_votes_v2 (fact_id, agent_id, vote, vote_weight, agent_rep_at_vote, vote_reason, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(fact_id, agent_id) DO UPDATE SET
			   vote = excluded.vote, vote_weight = excluded.vote_weight,
			   agent_rep_at_vote = excluded.agent_rep_at_vote,
			   vote_reason = excluded.vote_reason, created_at = excluded.created_at`,
			factID, agentID, value, rep, rep, nullString(optional(reason)), temporal.NowISO()); err != nil {
			tx.Rollback()
			return 0, wrapDBError("vote v2", err)
		}
	}

	txID, err := e.logTransaction(ctx, tx, "consensus", action,
		map[string]any{"fact_id": factID, "agent_id": agentID, "vote": value, "rep": rep, "reason": reason})
	if err != nil {
		tx.Rollback()
		return 0, err
	}
	if value != 0 {
		if _, err := tx.ExecContext(ctx,
			"UPDATE consensus_votes_v2 SET tx_id = ? WHERE fact_id = ? AND agent_id = ?",
			txID, factID, agentID); err != nil {
			tx.Rollback()
			return 0, wrapDBError("link vote to tx", err)
		}
	}

	score, err := e.recalculateConsensusV2(ctx, tx, factID)
	if err != nil {
		tx.Rollback()
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit vote: %w", err)
	}
	return score, nil
}

func (e *Engine) recalculateConsensusV2(ctx context.Context, tx execer, factID int64) (float64, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT v.vote, v.vote_weight, a.reputation_score
		 FROM consensus_votes_v2 v
		 JOIN agents a ON v.agent_id = a.id
		 WHERE v.fact_id = ? AND a.is_active = 1`, factID)
	if err != nil {
		return 0, wrapDBError("read v2 votes", err)
	}
	defer rows.Close()

	var weightedSum, totalWeight float64
	count := 0
	for rows.Next() {
		var vote int
		var weight, rep float64
		if err := rows.Scan(&vote, &weight, &rep); err != nil {
			return 0, wrapDBError("scan v2 vote", err)
		}
		w := weight
		if rep > w {
			w = rep
		}
		weightedSum += float64(vote) * w
		totalWeight += w
		count++
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}

	if count == 0 {
		// No v2 votes left; fall back to the v1 aggregate.
		return e.recalculateConsensus(ctx, tx, factID)
	}

	score := 1.0
	if totalWeight > 0 {
		score = clampScore(1.0 + weightedSum/totalWeight)
	}
	if err := e.updateFactScore(ctx, tx, factID, score); err != nil {
		return 0, err
	}
	return score, nil
}
