package postgres

import (
	"context"
	"fmt"

	"github.com/jakechorley/shiftbook/pkg/db"
)

// CreateAutoAcceptRule inserts a new auto-approval rule
func (d *DB) CreateAutoAcceptRule(ctx context.Context, rule db.AutoAcceptRule) error {
	ctx, cancel := opCtx(ctx)
	defer cancel()

	_, err := d.pool.Exec(ctx, `
		INSERT INTO auto_accept_rules (id, shift_type, enabled, predicate_kind, int_value, string_value)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, rule.ID, rule.ShiftType, rule.Enabled, rule.PredicateKind, rule.IntValue, rule.StringValue)
	if err != nil {
		return fmt.Errorf("failed to insert rule: %w", asStoreError(err))
	}
	return nil
}

// SetRuleEnabled toggles a rule on or off
func (d *DB) SetRuleEnabled(ctx context.Context, ruleID string, enabled bool) error {
	ctx, cancel := opCtx(ctx)
	defer cancel()

	tag, err := d.pool.Exec(ctx, `UPDATE auto_accept_rules SET enabled = $2 WHERE id = $1`, ruleID, enabled)
	if err != nil {
		return fmt.Errorf("failed to update rule: %w", asStoreError(err))
	}
	if tag.RowsAffected() == 0 {
		return db.ErrNotFound
	}
	return nil
}

// ActiveRules retrieves the enabled rules for one shift type
func (d *DB) ActiveRules(ctx context.Context, shiftType string) ([]db.AutoAcceptRule, error) {
	ctx, cancel := opCtx(ctx)
	defer cancel()

	rows, err := d.pool.Query(ctx, `
		SELECT id, shift_type, enabled, predicate_kind, int_value, string_value
		FROM auto_accept_rules
		WHERE shift_type = $1 AND enabled
	`, shiftType)
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", asStoreError(err))
	}
	defer rows.Close()

	var activeRules []db.AutoAcceptRule
	for rows.Next() {
		var rule db.AutoAcceptRule
		if err := rows.Scan(&rule.ID, &rule.ShiftType, &rule.Enabled, &rule.PredicateKind, &rule.IntValue, &rule.StringValue); err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", asStoreError(err))
		}
		activeRules = append(activeRules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read rules: %w", asStoreError(err))
	}
	return activeRules, nil
}
