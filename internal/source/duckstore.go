package source

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/marcboeker/go-duckdb"
	"github.com/rs/zerolog"

	"github.com/iot-monitor/chartengine/internal/models"
)

const readingsSchema = `
CREATE TABLE IF NOT EXISTS readings (
	id         VARCHAR PRIMARY KEY,
	device_id  VARCHAR NOT NULL,
	log_key    VARCHAR NOT NULL,
	ts         BIGINT NOT NULL,
	val_float  DOUBLE,
	is_numeric BOOLEAN NOT NULL,
	raw        VARCHAR,
	unit       VARCHAR,
	status     VARCHAR,
	seq        BIGINT NOT NULL
)`

// idLookupChunk bounds the IN list used to find already stored ids.
const idLookupChunk = 1000

// DuckOptions configures the DuckDB connection.
type DuckOptions struct {
	Threads     int
	MemoryLimit string
	Logger      zerolog.Logger
}

// DuckStore implements Store on a DuckDB database file.
type DuckStore struct {
	db     *sql.DB
	dbPath string
	log    zerolog.Logger

	// Serializes ingest so the duplicate check and append are atomic.
	ingestMu sync.Mutex

	seqMu sync.RWMutex
	seq   map[string]int64

	// Semaphore to limit concurrent queries
	querySem chan struct{}
}

// NewDuckStore opens (or creates) a readings database at dbPath.
// An empty path opens an in-memory database.
func NewDuckStore(dbPath string, opts DuckOptions) (*DuckStore, error) {
	log := opts.Logger.With().Str("component", "duckstore").Logger()
	log.Info().Str("path", dbPath).Msg("opening readings database")

	pragmas := []string{"PRAGMA enable_progress_bar=false"}
	if opts.Threads > 0 {
		pragmas = append(pragmas, fmt.Sprintf("PRAGMA threads=%d", opts.Threads))
	}
	if opts.MemoryLimit != "" {
		pragmas = append(pragmas, fmt.Sprintf("PRAGMA memory_limit='%s'", opts.MemoryLimit))
	}

	connector, err := duckdb.NewConnector(dbPath, func(execer driver.ExecerContext) error {
		for _, pragma := range pragmas {
			if _, err := execer.ExecContext(context.Background(), pragma, nil); err != nil {
				return fmt.Errorf("%s: %w", pragma, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create DuckDB connector: %w", err)
	}

	db := sql.OpenDB(connector)
	if _, err := db.Exec(readingsSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}
	if _, err := db.Exec("CREATE INDEX IF NOT EXISTS idx_readings_device_ts ON readings(device_id, ts)"); err != nil {
		db.Close()
		return nil, fmt.Errorf("idx_readings_device_ts creation failed: %w", err)
	}

	ds := &DuckStore{
		db:       db,
		dbPath:   dbPath,
		log:      log,
		seq:      make(map[string]int64),
		querySem: make(chan struct{}, 4),
	}
	if err := ds.loadSequences(); err != nil {
		db.Close()
		return nil, err
	}
	return ds, nil
}

func (ds *DuckStore) loadSequences() error {
	rows, err := ds.db.Query("SELECT device_id, MAX(seq) FROM readings GROUP BY device_id")
	if err != nil {
		return fmt.Errorf("failed to load ingest sequences: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var deviceID string
		var seq int64
		if err := rows.Scan(&deviceID, &seq); err != nil {
			return fmt.Errorf("scan ingest sequence: %w", err)
		}
		ds.seq[deviceID] = seq
	}
	if err := rows.Err(); err != nil {
		return err
	}
	ds.log.Info().Int("devices", len(ds.seq)).Msg("readings database ready")
	return nil
}

// Ingest appends records whose id is not stored yet using the Appender API.
func (ds *DuckStore) Ingest(ctx context.Context, deviceID string, records []models.LogRecord) (IngestResult, error) {
	ds.ingestMu.Lock()
	defer ds.ingestMu.Unlock()

	fresh, err := ds.newRecords(ctx, records)
	if err != nil {
		return IngestResult{}, err
	}
	res := IngestResult{Accepted: len(fresh), Duplicates: len(records) - len(fresh)}

	ds.seqMu.RLock()
	seq := ds.seq[deviceID]
	ds.seqMu.RUnlock()

	if len(fresh) == 0 {
		res.Token = formatToken(seq)
		return res, nil
	}
	seq++

	start := time.Now()
	conn, err := ds.db.Conn(ctx)
	if err != nil {
		return IngestResult{}, fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	err = conn.Raw(func(driverConn any) error {
		dConn, ok := driverConn.(*duckdb.Conn)
		if !ok {
			return fmt.Errorf("failed to cast to duckdb.Conn")
		}

		appender, err := duckdb.NewAppenderFromConn(dConn, "", "readings")
		if err != nil {
			return fmt.Errorf("failed to create appender: %w", err)
		}
		defer appender.Close()

		for i, r := range fresh {
			err := appender.AppendRow(
				r.ID,
				deviceID,
				r.Key,
				r.Timestamp.UnixMilli(),
				r.Value,
				r.Numeric,
				r.Raw,
				r.Unit,
				string(r.Status),
				seq,
			)
			if err != nil {
				return fmt.Errorf("failed to append row %d: %w", i, err)
			}
		}
		return appender.Flush()
	})
	if err != nil {
		return IngestResult{}, fmt.Errorf("appender error: %w", err)
	}

	ds.seqMu.Lock()
	ds.seq[deviceID] = seq
	ds.seqMu.Unlock()

	res.Token = formatToken(seq)
	ds.log.Debug().Str("device", deviceID).Int("accepted", res.Accepted).Int("duplicates", res.Duplicates).
		Dur("elapsed", time.Since(start)).Msg("ingest complete")
	return res, nil
}

// newRecords drops records already stored or repeated within the batch.
func (ds *DuckStore) newRecords(ctx context.Context, records []models.LogRecord) ([]models.LogRecord, error) {
	seen := make(map[string]struct{}, len(records))
	unique := make([]models.LogRecord, 0, len(records))
	for _, r := range records {
		if _, dup := seen[r.ID]; dup {
			continue
		}
		seen[r.ID] = struct{}{}
		unique = append(unique, r)
	}

	stored := make(map[string]struct{})
	for start := 0; start < len(unique); start += idLookupChunk {
		end := min(start+idLookupChunk, len(unique))
		chunk := unique[start:end]

		args := make([]any, len(chunk))
		for i, r := range chunk {
			args[i] = r.ID
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(chunk)), ",")
		rows, err := ds.db.QueryContext(ctx, "SELECT id FROM readings WHERE id IN ("+placeholders+")", args...)
		if err != nil {
			return nil, fmt.Errorf("duplicate lookup failed: %w", err)
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return nil, err
			}
			stored[id] = struct{}{}
		}
		rows.Close()
	}

	out := unique[:0]
	for _, r := range unique {
		if _, ok := stored[r.ID]; !ok {
			out = append(out, r)
		}
	}
	return out, nil
}

// QueryRange returns one page of readings in time order and the total match count.
func (ds *DuckStore) QueryRange(ctx context.Context, deviceID string, q Query) ([]models.LogRecord, int, error) {
	select {
	case ds.querySem <- struct{}{}:
		defer func() { <-ds.querySem }()
	case <-ctx.Done():
		return nil, 0, ctx.Err()
	}

	where, args := buildWhereClause(deviceID, q)

	var total int
	if err := ds.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM readings WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count query failed: %w", err)
	}
	if total == 0 {
		return []models.LogRecord{}, 0, nil
	}

	query := "SELECT id, log_key, ts, val_float, is_numeric, raw, unit, status FROM readings WHERE " + where +
		" ORDER BY ts, seq, id"
	if q.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", q.Limit)
	}
	if q.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", q.Offset)
	}

	rows, err := ds.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("range query failed: %w", err)
	}
	defer rows.Close()

	out := make([]models.LogRecord, 0, min(total, max(q.Limit, 0)))
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, 0, err
		}
		r.DeviceID = deviceID
		out = append(out, r)
	}
	return out, total, rows.Err()
}

func buildWhereClause(deviceID string, q Query) (string, []any) {
	conditions := []string{"device_id = ?", "ts >= ?", "ts <= ?"}
	args := []any{deviceID, q.From.UnixMilli(), q.To.UnixMilli()}

	var keys []string
	for _, k := range q.Keys {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	if len(keys) > 0 {
		conditions = append(conditions, "log_key IN ("+strings.TrimSuffix(strings.Repeat("?,", len(keys)), ",")+")")
		for _, k := range keys {
			args = append(args, k)
		}
	}
	return strings.Join(conditions, " AND "), args
}

func scanRecord(rows *sql.Rows) (models.LogRecord, error) {
	var (
		r                 models.LogRecord
		ts                int64
		val               sql.NullFloat64
		raw, unit, status sql.NullString
	)
	if err := rows.Scan(&r.ID, &r.Key, &ts, &val, &r.Numeric, &raw, &unit, &status); err != nil {
		return models.LogRecord{}, fmt.Errorf("scan reading: %w", err)
	}
	r.Timestamp = time.UnixMilli(ts).UTC()
	r.Value = val.Float64
	r.Raw = raw.String
	r.Unit = unit.String
	r.Status = models.RecordStatus(status.String)
	return r, nil
}

// LastUpdate returns the device's freshness token.
func (ds *DuckStore) LastUpdate(ctx context.Context, deviceID string) (string, error) {
	ds.seqMu.RLock()
	defer ds.seqMu.RUnlock()
	return formatToken(ds.seq[deviceID]), nil
}

// Devices lists devices with data.
func (ds *DuckStore) Devices(ctx context.Context) ([]string, error) {
	rows, err := ds.db.QueryContext(ctx, "SELECT DISTINCT device_id FROM readings ORDER BY device_id")
	if err != nil {
		return nil, fmt.Errorf("device query failed: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// Close closes the database.
func (ds *DuckStore) Close() error {
	if ds.db == nil {
		return nil
	}
	err := ds.db.Close()
	ds.db = nil
	return err
}
