package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"codeberg.org/mutker/sensorstream/internal/errors"
	"codeberg.org/mutker/sensorstream/internal/logger"
	"codeberg.org/mutker/sensorstream/internal/record"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) Config {
	t.Helper()
	dir := t.TempDir()
	return Config{
		DBPath:       filepath.Join(dir, "records.db"),
		BackupDir:    filepath.Join(dir, "backups"),
		BatchSize:    2,
		BatchTimeout: time.Hour,
		Enabled:      true,
	}
}

func countRows(t *testing.T, path string) int {
	t.Helper()
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	defer db.Close()

	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM records").Scan(&n))
	return n
}

func entry(seq int, r record.Record) *Entry {
	r.Sequence = seq
	return &Entry{SessionID: "session-1", ReceivedAt: time.Unix(1700000000, 0), Record: r}
}

func TestNewServiceDisabled(t *testing.T) {
	archive, err := NewService(DefaultConfig(), logger.Nop())
	require.NoError(t, err)

	_, isNoop := archive.(*noopArchive)
	assert.True(t, isNoop)
	assert.NoError(t, archive.Record(context.Background(), entry(0, record.Data(0, nil))))
	assert.NoError(t, archive.Close())
}

func TestNewServiceInvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"empty path", Config{Enabled: true}},
		{"negative batch size", Config{Enabled: true, DBPath: "x.db", BatchSize: -1}},
		{"negative batch timeout", Config{Enabled: true, DBPath: "x.db", BatchTimeout: -time.Second}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewService(tt.cfg, logger.Nop())
			require.Error(t, err)
			assert.True(t, errors.HasCode(err, ErrInvalidConfig))
		})
	}
}

func TestRecordFlushesAtBatchSize(t *testing.T) {
	cfg := testConfig(t)
	archive, err := NewService(cfg, logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { archive.Close() })

	ctx := context.Background()
	require.NoError(t, archive.Record(ctx, entry(0, record.Data(0, map[string]any{record.FieldCoreTemp: 48.3}))))
	assert.Equal(t, 0, countRows(t, cfg.DBPath))

	require.NoError(t, archive.Record(ctx, entry(1, record.Data(1, map[string]any{record.FieldCoreTemp: 48.9}))))
	assert.Equal(t, 2, countRows(t, cfg.DBPath))
}

func TestCloseFlushesPending(t *testing.T) {
	cfg := testConfig(t)
	cfg.BatchSize = 10
	archive, err := NewService(cfg, logger.Nop())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, archive.Record(ctx, entry(0, record.Data(0, nil))))
	require.NoError(t, archive.Record(ctx, entry(1, record.Failure(1, "vcgencmd missing"))))
	require.NoError(t, archive.Close())

	assert.Equal(t, 2, countRows(t, cfg.DBPath))
}

func TestPeriodicFlush(t *testing.T) {
	cfg := testConfig(t)
	cfg.BatchSize = 10
	cfg.BatchTimeout = 20 * time.Millisecond
	archive, err := NewService(cfg, logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { archive.Close() })

	require.NoError(t, archive.Record(context.Background(), entry(0, record.Data(0, nil))))

	assert.Eventually(t, func() bool {
		return countRows(t, cfg.DBPath) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStoredColumns(t *testing.T) {
	cfg := testConfig(t)
	cfg.BatchSize = 0
	repo, err := NewRepository(cfg, logger.Nop())
	require.NoError(t, err)

	require.NoError(t, repo.Record(entry(3, record.Data(3, map[string]any{
		record.FieldCoreTemp: 51.0,
		record.FieldVoltage:  1.2,
	}))))
	require.NoError(t, repo.Record(entry(4, record.Failure(4, "timeout"))))
	require.NoError(t, repo.Close())

	db, err := sql.Open("sqlite3", cfg.DBPath)
	require.NoError(t, err)
	defer db.Close()

	rows, err := db.Query(`SELECT session_id, iteration, received_at, error, core_temp_c, payload FROM records ORDER BY id`)
	require.NoError(t, err)
	defer rows.Close()

	type row struct {
		session   string
		iteration int
		received  int64
		errText   sql.NullString
		coreTemp  sql.NullFloat64
		payload   string
	}
	var got []row
	for rows.Next() {
		var r row
		require.NoError(t, rows.Scan(&r.session, &r.iteration, &r.received, &r.errText, &r.coreTemp, &r.payload))
		got = append(got, r)
	}
	require.NoError(t, rows.Err())
	require.Len(t, got, 2)

	assert.Equal(t, "session-1", got[0].session)
	assert.Equal(t, 3, got[0].iteration)
	assert.Equal(t, int64(1700000000000), got[0].received)
	assert.False(t, got[0].errText.Valid)
	assert.InDelta(t, 51.0, got[0].coreTemp.Float64, 0.001)
	assert.JSONEq(t, `{"core_temp_C":51,"iteration":3,"voltage":1.2}`, got[0].payload)

	assert.Equal(t, "timeout", got[1].errText.String)
	assert.False(t, got[1].coreTemp.Valid)
	assert.JSONEq(t, `{"error":"timeout","iteration":4}`, got[1].payload)
}

func TestFailedFlushDropsBatch(t *testing.T) {
	cfg := testConfig(t)
	cfg.BatchTimeout = 0
	repo, err := NewRepository(cfg, logger.Nop())
	require.NoError(t, err)
	r := repo.(*repository)

	_, err = r.db.Exec("DROP TABLE records")
	require.NoError(t, err)

	require.NoError(t, repo.Record(entry(0, record.Data(0, nil))))
	err = repo.Record(entry(1, record.Data(1, nil)))
	assert.True(t, errors.HasCode(err, ErrTransactionFailed))
	assert.Empty(t, r.buffer)

	// the next batch starts fresh instead of retrying the lost one
	require.NoError(t, repo.Record(entry(2, record.Data(2, nil))))
	assert.Len(t, r.buffer, 1)

	err = repo.Close()
	assert.True(t, errors.HasCode(err, ErrTransactionFailed))
	assert.Empty(t, r.buffer)
}

func TestRecordAfterClose(t *testing.T) {
	cfg := testConfig(t)
	repo, err := NewRepository(cfg, logger.Nop())
	require.NoError(t, err)
	require.NoError(t, repo.Close())
	require.NoError(t, repo.Close())

	err = repo.Record(entry(0, record.Data(0, nil)))
	assert.True(t, errors.HasCode(err, ErrClosed))
}

func TestRecordCancelledContext(t *testing.T) {
	archive, err := NewService(testConfig(t), logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { archive.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = archive.Record(ctx, entry(0, record.Data(0, nil)))
	assert.True(t, errors.HasCode(err, ErrOperationTimeout))
	assert.True(t, errors.HasCode(archive.Record(context.Background(), nil), ErrInvalidEntry))
}

func TestSchemaMismatchBacksUpAndRebuilds(t *testing.T) {
	cfg := testConfig(t)

	db, err := sql.Open("sqlite3", cfg.DBPath)
	require.NoError(t, err)
	_, err = db.Exec(`
		CREATE TABLE schema_versions (version INTEGER PRIMARY KEY, applied_at TEXT NOT NULL);
		INSERT INTO schema_versions VALUES (99, datetime('now'));
		CREATE TABLE records (legacy TEXT);`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	repo, err := NewRepository(cfg, logger.Nop())
	require.NoError(t, err)
	require.NoError(t, repo.Close())

	backups, err := os.ReadDir(cfg.BackupDir)
	require.NoError(t, err)
	require.Len(t, backups, 1)
	assert.Contains(t, backups[0].Name(), "records_v99_")

	db, err = sql.Open("sqlite3", cfg.DBPath)
	require.NoError(t, err)
	defer db.Close()

	version, err := GetSchemaVersion(db)
	require.NoError(t, err)
	assert.Equal(t, SchemaVersion, version)
	assert.Equal(t, 0, countRows(t, cfg.DBPath))
}

func TestDefaultBackupDir(t *testing.T) {
	cfg := Config{DBPath: "/var/lib/sensorstream/records.db"}
	assert.Equal(t, "/var/lib/sensorstream/backups", cfg.backupDir())
}
