package database

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationLowercaseUnitCodes = "2025-02-10_lowercase_unit_codes"

// ErrUnitCodeCollision reports stored unit codes that only differ by case and
// must be merged by hand before codes can be lowercased.
var ErrUnitCodeCollision = errors.New("database: unit codes collide when lowercased")

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationLowercaseUnitCodes, apply: lowercaseUnitCodes},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		err = db.Transaction(func(tx *gorm.DB) error {
			if err := migration.apply(tx); err != nil {
				return err
			}
			appliedAt := time.Now().UTC().Unix()
			return tx.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error
		})
		if err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// lowercaseUnitCodes normalises codes stored before lookups became
// case-insensitive.
func lowercaseUnitCodes(db *gorm.DB) error {
	if err := checkLowercaseCollisions(db); err != nil {
		return err
	}
	if err := db.Exec("UPDATE units SET code = LOWER(code) WHERE code <> LOWER(code)").Error; err != nil {
		return err
	}
	if err := db.Exec("UPDATE unit_overviews SET unit_code = LOWER(unit_code) WHERE unit_code <> LOWER(unit_code)").Error; err != nil {
		return err
	}
	return db.Exec("UPDATE setu_entries SET unit_code = LOWER(unit_code) WHERE unit_code <> LOWER(unit_code)").Error
}

func checkLowercaseCollisions(db *gorm.DB) error {
	var units []struct {
		Code  string
		Codes string
	}
	err := db.Raw("SELECT LOWER(code) AS code, " + groupConcat(db, "code") + " AS codes FROM units GROUP BY LOWER(code) HAVING COUNT(*) > 1 ORDER BY LOWER(code)").
		Scan(&units).Error
	if err != nil {
		return fmt.Errorf("check unit code collisions: %w", err)
	}
	var seasons []struct {
		UnitCode string
		Year     int
		Period   string
	}
	err = db.Raw("SELECT LOWER(unit_code) AS unit_code, year, period FROM setu_entries GROUP BY LOWER(unit_code), year, period HAVING COUNT(*) > 1 ORDER BY LOWER(unit_code), year, period").
		Scan(&seasons).Error
	if err != nil {
		return fmt.Errorf("check setu code collisions: %w", err)
	}
	if len(units) == 0 && len(seasons) == 0 {
		return nil
	}

	details := make([]string, 0, len(units)+len(seasons))
	for _, unit := range units {
		details = append(details, fmt.Sprintf("units %s (%s)", unit.Code, unit.Codes))
	}
	for _, season := range seasons {
		details = append(details, fmt.Sprintf("setu_entries %s %d %s", season.UnitCode, season.Year, season.Period))
	}
	return fmt.Errorf("%w: %s", ErrUnitCodeCollision, strings.Join(details, "; "))
}

func groupConcat(db *gorm.DB, column string) string {
	if db.Dialector.Name() == "postgres" {
		return "STRING_AGG(" + column + ", ',' ORDER BY " + column + ")"
	}
	return "GROUP_CONCAT(" + column + ", ',')"
}
