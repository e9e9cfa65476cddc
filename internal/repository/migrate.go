package repository

import (
	"fmt"

	"CycleOracle/internal/model"

	"gorm.io/gorm"
)

// Migrate 建表（不存在则创建）并补充 AutoMigrate 无法表达的检查约束
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(model.AllModels()...); err != nil {
		return fmt.Errorf("数据库表结构迁移失败: %w", err)
	}
	stmts := []string{
		`DO $$ BEGIN
			ALTER TABLE daily_game_matches ADD CONSTRAINT ck_dgm_display_order CHECK (display_order BETWEEN 0 AND 9);
		EXCEPTION WHEN duplicate_object THEN NULL; END $$`,
		`DO $$ BEGIN
			ALTER TABLE slips ADD CONSTRAINT ck_slips_correct_count CHECK (correct_count BETWEEN 0 AND 10);
		EXCEPTION WHEN duplicate_object THEN NULL; END $$`,
		`DO $$ BEGIN
			ALTER TABLE fixture_results ADD CONSTRAINT ck_fixture_results_scores CHECK (
				(home_score IS NULL OR home_score >= 0) AND (away_score IS NULL OR away_score >= 0));
		EXCEPTION WHEN duplicate_object THEN NULL; END $$`,
		`CREATE INDEX IF NOT EXISTS idx_slips_cycle_unevaluated ON slips (cycle_id) WHERE is_evaluated = false`,
	}
	for _, s := range stmts {
		if err := db.Exec(s).Error; err != nil {
			return fmt.Errorf("迁移约束失败: %w", err)
		}
	}
	return nil
}
