package postgres

import (
	"database/sql"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/Layr-Labs/raffle-sidecar/internal/config"
	"github.com/Layr-Labs/raffle-sidecar/internal/sqlite"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const defaultSSLMode = "disable"

var validSSLModes = []string{
	"disable",
	"require",
	"verify-ca",
	"verify-full",
}

var duplicateKeyRegex = regexp.MustCompile(`duplicate key value violates unique constraint|UNIQUE constraint failed`)

type PostgresConfig struct {
	Host                string
	Port                int
	Username            string
	Password            string
	DbName              string
	CreateDbIfNotExists bool
	SchemaName          string
	SSLMode             string
	SSLCert             string
	SSLKey              string
	SSLRootCert         string
}

type Postgres struct {
	Db *sql.DB
}

func PostgresConfigFromDbConfig(dbCfg *config.DatabaseConfig) *PostgresConfig {
	return &PostgresConfig{
		Host:        dbCfg.Host,
		Port:        dbCfg.Port,
		Username:    dbCfg.User,
		Password:    dbCfg.Password,
		DbName:      dbCfg.DbName,
		SchemaName:  dbCfg.SchemaName,
		SSLMode:     dbCfg.SSLMode,
		SSLCert:     dbCfg.SSLCert,
		SSLKey:      dbCfg.SSLKey,
		SSLRootCert: dbCfg.SSLRootCert,
	}
}

func getPostgresRootConnection(cfg *PostgresConfig) (*sql.DB, error) {
	rootCfg := *cfg
	rootCfg.DbName = "postgres"
	rootCfg.SchemaName = ""

	postgresConnStr, err := getPostgresConnectionString(&rootCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres connection string: %w", err)
	}

	postgresDB, err := sql.Open("postgres", postgresConnStr)
	if err != nil {
		return nil, fmt.Errorf("error connecting to postgres database: %w", err)
	}
	return postgresDB, nil
}

func getPostgresConnectionString(cfg *PostgresConfig) (string, error) {
	authString := ""
	sslMode := defaultSSLMode

	if cfg.Username != "" {
		authString = fmt.Sprintf("%s user=%s", authString, cfg.Username)
	}
	if cfg.Password != "" {
		authString = fmt.Sprintf("%s password=%s", authString, cfg.Password)
	}

	if cfg.SSLMode != "" {
		if !slices.Contains(validSSLModes, cfg.SSLMode) {
			return "", fmt.Errorf("invalid ssl mode: %s. Must be one of: %s", cfg.SSLMode, strings.Join(validSSLModes, ", "))
		}
		sslMode = cfg.SSLMode
	}

	baseString := fmt.Sprintf("host=%s%s dbname=%s port=%d sslmode=%s TimeZone=UTC",
		cfg.Host,
		authString,
		cfg.DbName,
		cfg.Port,
		sslMode,
	)

	if sslMode != defaultSSLMode {
		if cfg.SSLCert != "" {
			baseString = fmt.Sprintf("%s sslcert=%s", baseString, cfg.SSLCert)
		}
		if cfg.SSLKey != "" {
			baseString = fmt.Sprintf("%s sslkey=%s", baseString, cfg.SSLKey)
		}
		if cfg.SSLRootCert != "" {
			baseString = fmt.Sprintf("%s sslrootcert=%s", baseString, cfg.SSLRootCert)
		}
	}
	if cfg.SchemaName != "" {
		baseString = fmt.Sprintf("%s search_path=%s", baseString, cfg.SchemaName)
	}
	return baseString, nil
}

func CreateDatabaseIfNotExists(cfg *PostgresConfig, l *zap.Logger) error {
	postgresDB, err := getPostgresRootConnection(cfg)
	if err != nil {
		return err
	}
	defer postgresDB.Close()

	var exists bool
	err = postgresDB.QueryRow(`SELECT EXISTS(SELECT datname FROM pg_catalog.pg_database WHERE datname = $1)`, cfg.DbName).Scan(&exists)
	if err != nil {
		return fmt.Errorf("error checking if database exists: %w", err)
	}

	if !exists {
		if _, err = postgresDB.Exec(fmt.Sprintf(`CREATE DATABASE "%s"`, cfg.DbName)); err != nil {
			return fmt.Errorf("error creating database: %w", err)
		}
		l.Sugar().Infow("Created database", zap.String("name", cfg.DbName))
	}
	return nil
}

func NewPostgres(cfg *PostgresConfig, l *zap.Logger) (*Postgres, error) {
	if cfg.CreateDbIfNotExists {
		if err := CreateDatabaseIfNotExists(cfg, l); err != nil {
			return nil, fmt.Errorf("failed to create database if not exists: %w", err)
		}
	}
	connectString, err := getPostgresConnectionString(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres connection string: %w", err)
	}

	db, err := sql.Open("postgres", connectString)
	if err != nil {
		return nil, fmt.Errorf("failed to setup database: %w", err)
	}

	return &Postgres{
		Db: db,
	}, nil
}

func NewGormFromPostgresConnection(pgDb *sql.DB) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.New(postgres.Config{
		Conn: pgDb,
	}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to setup database: %w", err)
	}

	return db, nil
}

// NewDatabase opens the configured cache store. A sqlite path takes precedence over the postgres settings.
func NewDatabase(cfg *config.DatabaseConfig, l *zap.Logger) (*sql.DB, *gorm.DB, error) {
	if cfg.UseSqlite() {
		l.Sugar().Infow("Using sqlite database", zap.String("path", cfg.SqlitePath))
		grm, err := sqlite.NewGormSqliteFromSqlite(sqlite.NewSqlite(cfg.SqlitePath))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open sqlite database: %w", err)
		}
		sqlDb, err := grm.DB()
		if err != nil {
			return nil, nil, err
		}
		return sqlDb, grm, nil
	}

	pg, err := NewPostgres(PostgresConfigFromDbConfig(cfg), l)
	if err != nil {
		return nil, nil, err
	}
	grm, err := NewGormFromPostgresConnection(pg.Db)
	if err != nil {
		return nil, nil, err
	}
	return pg.Db, grm, nil
}

func IsDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}
	return duplicateKeyRegex.MatchString(err.Error())
}
