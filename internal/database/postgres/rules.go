package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/racepix/racepix/internal/ocr"
)

// RulesRepository is the PostgreSQL implementation of
// database.RulesRepository.
type RulesRepository struct {
	pool *Pool
}

func NewRulesRepository(pool *Pool) *RulesRepository {
	return &RulesRepository{pool: pool}
}

func (r *RulesRepository) Get(ctx context.Context, eventID string) (*ocr.Rules, error) {
	var rules ocr.Rules
	var rangeMin, rangeMax sql.NullInt64
	var normalize sql.NullBool
	var whitelist pq.StringArray

	err := r.pool.QueryRow(ctx, `
		SELECT digits_only, min_len, max_len, pattern, whitelist,
		       range_min, range_max, normalize_confusions
		FROM bib_rules WHERE event_id = $1`, eventID).
		Scan(&rules.DigitsOnly, &rules.MinLength, &rules.MaxLength, &rules.Pattern,
			&whitelist, &rangeMin, &rangeMax, &normalize)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get bib rules: %w", err)
	}

	rules.Whitelist = whitelist
	if rangeMin.Valid {
		v := int(rangeMin.Int64)
		rules.MinNumber = &v
	}
	if rangeMax.Valid {
		v := int(rangeMax.Int64)
		rules.MaxNumber = &v
	}
	if normalize.Valid {
		v := normalize.Bool
		rules.NormalizeConfusions = &v
	}
	return &rules, nil
}

func (r *RulesRepository) Upsert(ctx context.Context, eventID string, rules *ocr.Rules) error {
	var rangeMin, rangeMax sql.NullInt64
	if rules.MinNumber != nil {
		rangeMin = sql.NullInt64{Int64: int64(*rules.MinNumber), Valid: true}
	}
	if rules.MaxNumber != nil {
		rangeMax = sql.NullInt64{Int64: int64(*rules.MaxNumber), Valid: true}
	}
	var normalize sql.NullBool
	if rules.NormalizeConfusions != nil {
		normalize = sql.NullBool{Bool: *rules.NormalizeConfusions, Valid: true}
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO bib_rules (event_id, digits_only, min_len, max_len, pattern,
			whitelist, range_min, range_max, normalize_confusions)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (event_id) DO UPDATE SET
			digits_only = EXCLUDED.digits_only,
			min_len = EXCLUDED.min_len,
			max_len = EXCLUDED.max_len,
			pattern = EXCLUDED.pattern,
			whitelist = EXCLUDED.whitelist,
			range_min = EXCLUDED.range_min,
			range_max = EXCLUDED.range_max,
			normalize_confusions = EXCLUDED.normalize_confusions`,
		eventID, rules.DigitsOnly, rules.MinLength, rules.MaxLength, rules.Pattern,
		pq.Array(rules.Whitelist), rangeMin, rangeMax, normalize)
	if err != nil {
		return fmt.Errorf("upsert bib rules: %w", err)
	}
	return nil
}
