package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"turfwatch/internal/types"
)

// RuleRepository provides data access for the rules table, which holds
// operator-defined rules layered on top of the built-in catalog. Tiers and
// the optional seasonal window are stored as JSONB.
type RuleRepository struct {
	db DBTX
}

// NewRuleRepository creates a new RuleRepository backed by the given
// database connection (pool or transaction).
func NewRuleRepository(db DBTX) *RuleRepository {
	return &RuleRepository{db: db}
}

// ruleColumns defines the standard set of columns selected for rule queries.
const ruleColumns = `id, category, kind, seasonal_window, tiers`

// Create inserts a new operator-defined rule. The caller is expected to
// have validated the spec already. Returns ErrCodeConflictRuleID when the
// rule ID collides with an existing stored rule.
func (r *RuleRepository) Create(ctx context.Context, spec *types.RuleSpec) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO rules (id, category, kind, seasonal_window, tiers)
		 VALUES ($1, $2, $3, $4, $5)`,
		spec.ID,
		spec.Category,
		string(spec.Kind),
		spec.Window,
		spec.Tiers,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return types.NewAppError(types.ErrCodeConflictRuleID,
				fmt.Sprintf("a rule with ID %q already exists", spec.ID), err)
		}
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create rule", err)
	}
	return nil
}

// GetByID retrieves a stored rule by its identifier. Returns
// ErrCodeNotFoundRule when no stored rule matches; built-in rules are not
// visible through this repository.
func (r *RuleRepository) GetByID(ctx context.Context, id string) (*types.RuleSpec, error) {
	row := r.db.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM rules WHERE id = $1`, ruleColumns),
		id,
	)
	spec, err := scanRuleRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundRule,
				fmt.Sprintf("rule %q not found", id), err)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get rule", err)
	}
	return spec, nil
}

// List retrieves all stored rules in creation order. Creation order is the
// catalog extension order: stored rules evaluate after the built-ins, in
// the order they were defined.
func (r *RuleRepository) List(ctx context.Context) ([]types.RuleSpec, error) {
	rows, err := r.db.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM rules ORDER BY created_at ASC, id ASC`, ruleColumns),
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query rules", err)
	}
	defer rows.Close()

	var specs []types.RuleSpec
	for rows.Next() {
		spec, scanErr := scanRule(rows)
		if scanErr != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan rule row", scanErr)
		}
		specs = append(specs, *spec)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating rule rows", err)
	}
	return specs, nil
}

// Delete removes a stored rule. Returns ErrCodeNotFoundRule when no stored
// rule matches the ID. Recommendations already emitted by the rule are left
// in place until they expire.
func (r *RuleRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM rules WHERE id = $1`, id)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to delete rule", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundRule,
			fmt.Sprintf("rule %q not found", id), nil)
	}
	return nil
}

// scanRule scans a rule from pgx.Rows. Column order must match ruleColumns.
func scanRule(rows pgx.Rows) (*types.RuleSpec, error) {
	var spec types.RuleSpec
	var window *types.SeasonalWindow
	err := rows.Scan(
		&spec.ID,
		&spec.Category,
		&spec.Kind,
		&window,
		&spec.Tiers,
	)
	if err != nil {
		return nil, err
	}
	spec.Window = window
	return &spec, nil
}

// scanRuleRow scans a rule from a pgx.Row (single-row query path).
func scanRuleRow(row pgx.Row) (*types.RuleSpec, error) {
	var spec types.RuleSpec
	var window *types.SeasonalWindow
	err := row.Scan(
		&spec.ID,
		&spec.Category,
		&spec.Kind,
		&window,
		&spec.Tiers,
	)
	if err != nil {
		return nil, err
	}
	spec.Window = window
	return &spec, nil
}
