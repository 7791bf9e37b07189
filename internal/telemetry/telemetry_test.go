package telemetry_test

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"codeberg.org/mutker/sawctl/internal/errors"
	"codeberg.org/mutker/sawctl/internal/logger"
	"codeberg.org/mutker/sawctl/internal/snapshot"
	"codeberg.org/mutker/sawctl/internal/state"
	"codeberg.org/mutker/sawctl/internal/telemetry"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) telemetry.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := telemetry.DefaultConfig()
	cfg.DBPath = filepath.Join(dir, "data", "telemetry.db")
	cfg.BackupDir = filepath.Join(dir, "backups")
	cfg.BatchSize = 1
	cfg.BatchTimeout = 0
	return cfg
}

func record(at time.Time, session uuid.UUID, readings map[snapshot.Field]snapshot.Reading) *telemetry.Record {
	return telemetry.NewRecord(state.View{
		Snapshot: snapshot.New(at, readings),
		State:    state.Cutting,
		Session:  session,
		Seq:      1,
	})
}

func openDB(t *testing.T, path string) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func countRows(t *testing.T, db *sql.DB) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM telemetry").Scan(&n))
	return n
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, telemetry.DefaultConfig().Validate())

	disabled := telemetry.Config{}
	assert.NoError(t, disabled.Validate(), "disabled config needs no settings")

	cfg := telemetry.DefaultConfig()
	cfg.DBPath = ""
	assert.True(t, errors.HasCode(cfg.Validate(), telemetry.ErrInvalidDBPath))

	cfg = telemetry.DefaultConfig()
	cfg.Interval = 0
	assert.True(t, errors.HasCode(cfg.Validate(), telemetry.ErrInvalidConfig))
}

func TestNewServiceDisabled(t *testing.T) {
	c, err := telemetry.NewService(telemetry.Config{}, logger.Nop())
	require.NoError(t, err)

	assert.NoError(t, c.Record(context.Background(), &telemetry.Record{}))
	assert.NoError(t, c.Close())
}

func TestNewRecordBeforeFirstPublish(t *testing.T) {
	assert.Nil(t, telemetry.NewRecord(state.View{State: state.Idle}))
}

func TestRepositoryStoresAbsentReadingsAsNull(t *testing.T) {
	cfg := testConfig(t)
	c, err := telemetry.NewService(cfg, logger.Nop())
	require.NoError(t, err)

	at := time.UnixMilli(1_700_000_000_123)
	session := uuid.New()
	rec := record(at, session, map[snapshot.Field]snapshot.Reading{
		snapshot.CuttingCurrent: snapshot.Measured(21.5),
		snapshot.BladeDeviation: snapshot.Absent(),
	})
	require.NoError(t, c.Record(context.Background(), rec))
	require.NoError(t, c.Close())

	db := openDB(t, cfg.DBPath)
	var (
		ts        int64
		sess      sql.NullString
		st        string
		current   sql.NullFloat64
		deviation sql.NullFloat64
		height    sql.NullFloat64
	)
	err = db.QueryRow(`SELECT timestamp, session, state, cutting_current, blade_deviation, head_height
		FROM telemetry`).Scan(&ts, &sess, &st, &current, &deviation, &height)
	require.NoError(t, err)

	assert.Equal(t, at.UnixMilli(), ts)
	assert.Equal(t, session.String(), sess.String)
	assert.Equal(t, "cutting", st)
	assert.True(t, current.Valid)
	assert.InDelta(t, 21.5, current.Float64, 1e-9)
	assert.False(t, deviation.Valid, "absent reading must be NULL")
	assert.False(t, height.Valid, "unmapped field must be NULL")
}

func TestRepositoryNilSessionIsNull(t *testing.T) {
	cfg := testConfig(t)
	c, err := telemetry.NewService(cfg, logger.Nop())
	require.NoError(t, err)

	require.NoError(t, c.Record(context.Background(), record(time.Now(), uuid.Nil, nil)))
	require.NoError(t, c.Close())

	var sess sql.NullString
	require.NoError(t, openDB(t, cfg.DBPath).QueryRow("SELECT session FROM telemetry").Scan(&sess))
	assert.False(t, sess.Valid)
}

func TestRepositoryBatchesUntilClose(t *testing.T) {
	cfg := testConfig(t)
	cfg.BatchSize = 10
	repo, err := telemetry.NewRepository(cfg, logger.Nop())
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, repo.Record(record(time.Now(), uuid.Nil, nil)))
	}

	db := openDB(t, cfg.DBPath)
	assert.Equal(t, 0, countRows(t, db), "partial batch must stay buffered")

	require.NoError(t, repo.Close())
	assert.Equal(t, 3, countRows(t, db))
	assert.NoError(t, repo.Close(), "close is idempotent")
}

func TestRepositoryFlushesFullBatch(t *testing.T) {
	cfg := testConfig(t)
	cfg.BatchSize = 2
	repo, err := telemetry.NewRepository(cfg, logger.Nop())
	require.NoError(t, err)
	defer repo.Close()

	require.NoError(t, repo.Record(record(time.Now(), uuid.Nil, nil)))
	require.NoError(t, repo.Record(record(time.Now(), uuid.Nil, nil)))

	assert.Equal(t, 2, countRows(t, openDB(t, cfg.DBPath)))
}

func TestRepositoryPeriodicFlush(t *testing.T) {
	cfg := testConfig(t)
	cfg.BatchSize = 100
	cfg.BatchTimeout = 10 * time.Millisecond
	repo, err := telemetry.NewRepository(cfg, logger.Nop())
	require.NoError(t, err)
	defer repo.Close()

	require.NoError(t, repo.Record(record(time.Now(), uuid.Nil, nil)))

	db := openDB(t, cfg.DBPath)
	assert.Eventually(t, func() bool { return countRows(t, db) == 1 }, time.Second, 10*time.Millisecond)
}

func TestRepositoryRejectsEmptyRecord(t *testing.T) {
	repo, err := telemetry.NewRepository(testConfig(t), logger.Nop())
	require.NoError(t, err)
	defer repo.Close()

	assert.True(t, errors.HasCode(repo.Record(nil), telemetry.ErrInvalidRecord))
	assert.True(t, errors.HasCode(repo.Record(&telemetry.Record{}), telemetry.ErrInvalidRecord))
}

func TestSchemaMismatchBacksUpAndRebuilds(t *testing.T) {
	cfg := testConfig(t)
	repo, err := telemetry.NewRepository(cfg, logger.Nop())
	require.NoError(t, err)
	require.NoError(t, repo.Record(record(time.Now(), uuid.Nil, nil)))
	require.NoError(t, repo.Close())

	db, err := sql.Open("sqlite3", cfg.DBPath)
	require.NoError(t, err)
	_, err = db.Exec("INSERT INTO schema_versions (version, applied_at) VALUES (99, datetime('now'))")
	require.NoError(t, err)
	require.NoError(t, db.Close())

	repo, err = telemetry.NewRepository(cfg, logger.Nop())
	require.NoError(t, err)
	require.NoError(t, repo.Close())

	backups, err := os.ReadDir(cfg.BackupDir)
	require.NoError(t, err)
	require.Len(t, backups, 1)
	assert.Contains(t, backups[0].Name(), "telemetry_v99_")

	check := openDB(t, cfg.DBPath)
	version, err := telemetry.GetSchemaVersion(check)
	require.NoError(t, err)
	assert.Equal(t, telemetry.SchemaVersion, version)
	assert.Equal(t, 0, countRows(t, check), "rebuilt schema starts empty")
}

func TestServiceRecordCancelled(t *testing.T) {
	c, err := telemetry.NewService(testConfig(t), logger.Nop())
	require.NoError(t, err)
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = c.Record(ctx, record(time.Now(), uuid.Nil, nil))
	assert.True(t, errors.HasCode(err, telemetry.ErrOperationTimeout))
}
