// Package temporal builds the validity predicates used for active-only,
// as-of, and time-travel queries over the facts table.
//
// Fact validity is the half-open interval [valid_from, valid_until): a fact
// is valid at exactly valid_from and no longer valid at exactly valid_until.
// Timestamps are RFC 3339 UTC strings compared as text; NowISO always emits
// nine fractional digits so the values it produces order correctly.
package temporal

import (
	"fmt"
	"time"
)

// NowISO returns the current UTC timestamp in RFC 3339 format.
func NowISO() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05.000000000Z07:00")
}

// IsValidAt reports whether a fact with the given validity window is valid
// at the instant at. An empty at means now. validUntil == nil means the fact
// is still active.
func IsValidAt(validFrom string, validUntil *string, at string) bool {
	if at == "" {
		at = NowISO()
	}
	if validFrom > at {
		return false
	}
	if validUntil != nil && *validUntil <= at {
		return false
	}
	return true
}

// validAlias accepts only alphanumeric table aliases before interpolation
// into SQL text.
func validAlias(alias string) bool {
	if alias == "" {
		return false
	}
	for _, r := range alias {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}

func prefixFor(alias string) (string, error) {
	if alias == "" {
		return "", nil
	}
	if !validAlias(alias) {
		return "", fmt.Errorf("invalid table alias: %q", alias)
	}
	return alias + ".", nil
}

// Filter builds a parameterized WHERE fragment for temporal filtering.
// An empty asOf selects active facts only (valid_until IS NULL); otherwise
// the half-open as-of predicate is produced.
func Filter(asOf string, alias string) (string, []any, error) {
	p, err := prefixFor(alias)
	if err != nil {
		return "", nil, err
	}
	if asOf == "" {
		return p + "valid_until IS NULL", nil, nil
	}
	clause := fmt.Sprintf(
		"%svalid_from <= ? AND (%svalid_until IS NULL OR %svalid_until > ?)",
		p, p, p,
	)
	return clause, []any{asOf, asOf}, nil
}

// TimeTravelFilter builds the predicate that reconstructs the active fact
// set as of transaction txID: rows created by a transaction at or before the
// target, and not yet deprecated at the target transaction's timestamp.
func TimeTravelFilter(txID int64, alias string) (string, []any, error) {
	if txID <= 0 {
		return "", nil, fmt.Errorf("invalid tx_id: %d", txID)
	}
	p, err := prefixFor(alias)
	if err != nil {
		return "", nil, err
	}
	clause := fmt.Sprintf(
		"%stx_id <= ? AND (%svalid_until IS NULL OR %svalid_until > (SELECT timestamp FROM transactions WHERE id = ?))",
		p, p, p,
	)
	return clause, []any{txID, txID}, nil
}
