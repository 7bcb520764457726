package migrations

import (
	"database/sql"
	"fmt"
	"time"

	_202610010900_raffleTables "github.com/Layr-Labs/raffle-sidecar/pkg/postgres/migrations/202610010900_raffleTables"
	_202610011200_readIndexes "github.com/Layr-Labs/raffle-sidecar/pkg/postgres/migrations/202610011200_readIndexes"
	_202610021000_syncState "github.com/Layr-Labs/raffle-sidecar/pkg/postgres/migrations/202610021000_syncState"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Migration interface {
	Up(db *sql.DB, grm *gorm.DB) error
	GetName() string
}

type Migrator struct {
	Db     *sql.DB
	GDb    *gorm.DB
	Logger *zap.Logger
}

func NewMigrator(db *sql.DB, gDb *gorm.DB, l *zap.Logger) *Migrator {
	return &Migrator{
		Db:     db,
		GDb:    gDb,
		Logger: l,
	}
}

func (m *Migrator) migrations() []Migration {
	return []Migration{
		&_202610010900_raffleTables.Migration{},
		&_202610011200_readIndexes.Migration{},
		&_202610021000_syncState.Migration{},
	}
}

func (m *Migrator) MigrateAll() error {
	if err := m.GDb.AutoMigrate(&Migrations{}); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}
	for _, migration := range m.migrations() {
		if err := m.Migrate(migration); err != nil {
			return fmt.Errorf("migration '%s' failed: %w", migration.GetName(), err)
		}
	}
	return nil
}

func (m *Migrator) Migrate(migration Migration) error {
	name := migration.GetName()

	var migrationRecord Migrations
	result := m.GDb.Where("name = ?", name).Limit(1).Find(&migrationRecord)

	if result.Error != nil {
		m.Logger.Sugar().Errorw(fmt.Sprintf("Failed to find migration '%s'", name), zap.Error(result.Error))
		return result.Error
	}
	if result.RowsAffected > 0 {
		m.Logger.Sugar().Debugf("Migration %s already run", name)
		return nil
	}

	m.Logger.Sugar().Infof("Running migration '%s'", name)
	if err := migration.Up(m.Db, m.GDb); err != nil {
		m.Logger.Sugar().Errorw(fmt.Sprintf("Failed to run migration '%s'", name), zap.Error(err))
		return err
	}

	migrationRecord = Migrations{
		Name: name,
	}
	if result = m.GDb.Create(&migrationRecord); result.Error != nil {
		m.Logger.Sugar().Errorw(fmt.Sprintf("Failed to record migration '%s'", name), zap.Error(result.Error))
		return result.Error
	}
	return nil
}

// Applied lists the names of the migrations that have run, oldest first.
func (m *Migrator) Applied() ([]string, error) {
	names := make([]string, 0)
	res := m.GDb.Model(&Migrations{}).Order("name asc").Pluck("name", &names)
	return names, res.Error
}

type Migrations struct {
	Name      string `gorm:"primaryKey"`
	CreatedAt time.Time
	UpdatedAt time.Time
}
