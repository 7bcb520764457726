package helpers

import (
	"errors"
	"testing"

	"github.com/Layr-Labs/raffle-sidecar/internal/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type widget struct {
	Id   int `gorm:"primaryKey"`
	Name string
}

func Test_Helpers(t *testing.T) {
	grm, err := sqlite.NewGormSqliteFromSqlite(sqlite.NewInMemorySqlite("helpers_test"))
	require.NoError(t, err)
	require.NoError(t, grm.AutoMigrate(&widget{}))

	t.Run("Should pick sqlite column types", func(t *testing.T) {
		assert.False(t, IsPostgres(grm))
		assert.Equal(t, "text", AmountColumnType(grm))
		assert.Equal(t, "datetime", TimestampColumnType(grm))
		assert.Equal(t, "CAST(slot_fee AS REAL)", AmountSortExpression(grm, "slot_fee"))
	})
	t.Run("Should commit on success", func(t *testing.T) {
		_, err := WrapTxAndCommit(func(tx *gorm.DB) (interface{}, error) {
			return nil, tx.Create(&widget{Id: 1, Name: "a"}).Error
		}, grm, nil)
		require.NoError(t, err)

		var count int64
		grm.Model(&widget{}).Count(&count)
		assert.Equal(t, int64(1), count)
	})
	t.Run("Should roll back on error", func(t *testing.T) {
		_, err := WrapTxAndCommit(func(tx *gorm.DB) (interface{}, error) {
			if err := tx.Create(&widget{Id: 2, Name: "b"}).Error; err != nil {
				return nil, err
			}
			return nil, errors.New("boom")
		}, grm, nil)
		require.Error(t, err)

		var count int64
		grm.Model(&widget{}).Where("id = ?", 2).Count(&count)
		assert.Equal(t, int64(0), count)
	})
}
