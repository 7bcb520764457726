package snapshot

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Layr-Labs/raffle-sidecar/pkg/storage"
	pgcommands "github.com/habx/pg-commands"
	"go.uber.org/zap"
)

// SnapshotTables are the tables a snapshot carries. The migrations table goes along so a restored
// database is not migrated twice.
var SnapshotTables = []string{
	storage.Pool{}.TableName(),
	storage.Collection{}.TableName(),
	storage.PoolParticipant{}.TableName(),
	storage.PoolWinner{}.TableName(),
	storage.UserActivity{}.TableName(),
	storage.IndexerSyncState{}.TableName(),
	"migrations",
}

// SnapshotConfig encapsulates all configuration needed for snapshot operations.
type SnapshotConfig struct {
	OutputFile string
	InputFile  string
	Host       string
	Port       int
	User       string
	Password   string
	DbName     string
	SchemaName string
	// Version is recorded in the metadata file written next to a new snapshot.
	Version  string
	ChainIds []uint64
}

type SnapshotService struct {
	cfg *SnapshotConfig
	l   *zap.Logger
}

func NewSnapshotService(cfg *SnapshotConfig, l *zap.Logger) (*SnapshotService, error) {
	var err error

	cfg.InputFile, err = resolveFilePath(cfg.InputFile)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve input file path: %w", err)
	}
	cfg.OutputFile, err = resolveFilePath(cfg.OutputFile)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve output file path: %w", err)
	}

	l.Sugar().Infow("Resolved file paths", "inputFile", cfg.InputFile, "outputFile", cfg.OutputFile)

	return &SnapshotService{
		cfg: cfg,
		l:   l,
	}, nil
}

// resolveFilePath expands the ~ in file paths to the user's home directory and converts relative paths to absolute paths.
func resolveFilePath(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get user home directory: %w", err)
		}
		path = filepath.Join(homeDir, path[2:])
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}
	return absPath, nil
}

// CreateSnapshot dumps the raffle tables to the output file and writes its hash and metadata
// files alongside.
func (s *SnapshotService) CreateSnapshot() error {
	if err := s.validateCreateSnapshotConfig(); err != nil {
		return err
	}

	dump, err := s.setupSnapshotDump()
	if err != nil {
		return err
	}

	dumpExec := dump.Exec(pgcommands.ExecOptions{StreamPrint: false})
	if dumpExec.Error != nil {
		s.l.Sugar().Errorw("Failed to create database snapshot", "error", dumpExec.Error.Err, "output", dumpExec.Output)
		return dumpExec.Error.Err
	}

	file := newSnapshotFile(s.cfg.OutputFile)
	file.CreatedTimestamp = time.Now()
	file.Version = s.cfg.Version
	file.SchemaName = s.cfg.SchemaName
	file.ChainIds = s.cfg.ChainIds

	if err := file.GenerateAndSaveSnapshotHash(); err != nil {
		return err
	}
	if err := file.GenerateAndSaveMetadata(); err != nil {
		return err
	}

	s.l.Sugar().Infow("Successfully created snapshot", "file", file.FullPath(), "hashFile", file.HashFilePath())
	return nil
}

// RestoreSnapshot restores the input file. When a hash file sits next to it the dump is checked
// against it first.
func (s *SnapshotService) RestoreSnapshot() error {
	if err := s.validateRestoreConfig(); err != nil {
		return err
	}

	file := newSnapshotFile(s.cfg.InputFile)
	if _, err := os.Stat(file.HashFilePath()); err == nil {
		if err := file.ValidateHash(); err != nil {
			s.l.Sugar().Errorw("Snapshot hash does not match", "error", err)
			return err
		}
	} else {
		s.l.Sugar().Warnw("No hash file found, restoring without validation", "hashFile", file.HashFilePath())
	}

	restore, err := s.setupRestore()
	if err != nil {
		return err
	}

	restoreExec := restore.Exec(s.cfg.InputFile, pgcommands.ExecOptions{StreamPrint: false})
	if restoreExec.Error != nil {
		s.l.Sugar().Errorw("Failed to restore from snapshot",
			"error", restoreExec.Error.Err,
			"output", restoreExec.Output,
		)
		return restoreExec.Error.Err
	}

	s.l.Sugar().Infow("Successfully restored from snapshot")
	return nil
}

func (s *SnapshotService) validateCreateSnapshotConfig() error {
	if s.cfg.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if s.cfg.OutputFile == "" {
		return fmt.Errorf("output path i.e. `output-file` must be specified")
	}

	return nil
}

func (s *SnapshotService) qualifiedTable(name string) string {
	if s.cfg.SchemaName == "" {
		return name
	}
	return fmt.Sprintf("%s.%s", s.cfg.SchemaName, name)
}

func (s *SnapshotService) setupSnapshotDump() (*pgcommands.Dump, error) {
	dump, err := pgcommands.NewDump(&pgcommands.Postgres{
		Host:     s.cfg.Host,
		Port:     s.cfg.Port,
		DB:       s.cfg.DbName,
		Username: s.cfg.User,
		Password: s.cfg.Password,
	})
	if err != nil {
		s.l.Sugar().Errorw("Failed to initialize pg-commands Dump", "error", err)
		return nil, err
	}

	if s.cfg.SchemaName != "" {
		dump.Options = append(dump.Options, fmt.Sprintf("--schema=%s", s.cfg.SchemaName))
	}
	for _, table := range SnapshotTables {
		dump.Options = append(dump.Options, fmt.Sprintf("--table=%s", s.qualifiedTable(table)))
	}

	dump.SetFileName(s.cfg.OutputFile)

	return dump, nil
}

func (s *SnapshotService) validateRestoreConfig() error {
	if s.cfg.InputFile == "" {
		return fmt.Errorf("restore snapshot file path i.e. `input-file` must be specified")
	}

	info, err := os.Stat(s.cfg.InputFile)
	if err != nil || info.IsDir() {
		return fmt.Errorf("snapshot file does not exist: %s", s.cfg.InputFile)
	}

	return nil
}

func (s *SnapshotService) setupRestore() (*pgcommands.Restore, error) {
	restore, err := pgcommands.NewRestore(&pgcommands.Postgres{
		Host:     s.cfg.Host,
		Port:     s.cfg.Port,
		DB:       "", // left blank to not automatically assign DB as the role
		Username: s.cfg.User,
		Password: s.cfg.Password,
	})
	if err != nil {
		s.l.Sugar().Errorw("Failed to initialize restore", "error", err)
		return nil, err
	}

	restore.Options = append(restore.Options, "--clean", "--if-exists")
	restore.Options = append(restore.Options, fmt.Sprintf("--dbname=%s", s.cfg.DbName))

	if s.cfg.SchemaName != "" {
		restore.SetSchemas([]string{s.cfg.SchemaName})
	}

	return restore, nil
}
