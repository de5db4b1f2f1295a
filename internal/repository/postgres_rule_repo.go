package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/spendsense/internal/model"
)

// PostgresRuleRepo はPostgreSQLを使用したナッジルールリポジトリ。
// ルールはマイグレーションでシードされるため、読み取り操作のみを提供する。
type PostgresRuleRepo struct {
	db *sql.DB
}

// NewPostgresRuleRepo はPostgresRuleRepoを生成する。
func NewPostgresRuleRepo(db *sql.DB) *PostgresRuleRepo {
	return &PostgresRuleRepo{db: db}
}

// ListActive は有効なルールをpriority昇順で返す。
// この順序が評価の決定性を保証する。
func (r *PostgresRuleRepo) ListActive(ctx context.Context) ([]model.NudgeRule, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, priority, template_code, channel, title_template, body_template,
		        cta_text, cta_deeplink, cooldown_days, active
		 FROM nudge_rules
		 WHERE active = TRUE
		 ORDER BY priority ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("ナッジルールの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var rules []model.NudgeRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, *rule)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ナッジルールの走査に失敗しました: %w", err)
	}

	return rules, nil
}

// FindByID は指定IDのルールを取得する。見つからない場合はnilを返す。
func (r *PostgresRuleRepo) FindByID(ctx context.Context, id string) (*model.NudgeRule, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, priority, template_code, channel, title_template, body_template,
		        cta_text, cta_deeplink, cooldown_days, active
		 FROM nudge_rules WHERE id = $1`,
		id,
	)

	rule, err := scanRule(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rule, nil
}

// rowScanner は*sql.Rowと*sql.Rowsの共通スキャンインターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (*model.NudgeRule, error) {
	rule := &model.NudgeRule{}
	var ctaText, ctaDeeplink sql.NullString

	err := row.Scan(
		&rule.ID, &rule.Priority, &rule.TemplateCode, &rule.Channel,
		&rule.TitleTemplate, &rule.BodyTemplate,
		&ctaText, &ctaDeeplink, &rule.CooldownDays, &rule.Active,
	)
	if err == sql.ErrNoRows {
		return nil, sql.ErrNoRows
	}
	if err != nil {
		return nil, fmt.Errorf("ナッジルールの読み取りに失敗しました: %w", err)
	}

	if ctaText.Valid {
		rule.CTAText = &ctaText.String
	}
	if ctaDeeplink.Valid {
		rule.CTADeeplink = &ctaDeeplink.String
	}

	return rule, nil
}

// compile-time interface check
var _ RuleRepository = (*PostgresRuleRepo)(nil)
