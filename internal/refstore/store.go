// Package refstore is a SQLite-backed reference implementation of
// cloudsync.StorageProxy: a thin layer over database/sql with goose-managed
// migrations. It exists for tests and the demo CLI — a production
// deployment would back StorageProxy with whatever relational engine the
// embedding application already uses.
package refstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/distributeddb/cloudsync/internal/cloudsync"
)

// TableSchema describes one table's shape for CheckSchema and the asset
// tagger, configured up front since this reference store has no real DDL
// introspection of its own.
type TableSchema struct {
	Local       cloudsync.RelationalSchemaObject
	Cloud       cloudsync.DatabaseSchema
	PKCols      []string
	AssetFields []cloudsync.AssetField
}

// Store is a SQLite-backed cloudsync.StorageProxy.
type Store struct {
	db      *sql.DB
	logger  *slog.Logger
	schemas map[string]TableSchema

	mu sync.Mutex
	tx *sql.Tx

	changesMu sync.Mutex
	changes   []cloudsync.ChangedData // test/demo introspection hook
}

// Open creates or opens a SQLite database at path, runs migrations, and
// returns a Store configured with the given per-table schemas.
func Open(ctx context.Context, path string, schemas map[string]TableSchema, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("refstore: open %s: %w", path, err)
	}

	db.SetMaxOpenConns(1) // modernc.org/sqlite is not safe for concurrent writers

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, logger: logger, schemas: schemas}, nil
}

func (s *Store) execer() interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
	QueryContext(context.Context, string, ...any) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...any) *sql.Row
} {
	if s.tx != nil {
		return s.tx
	}

	return s.db
}

// --- Transactions --------------------------------------------------------

func (s *Store) StartTransaction(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tx != nil {
		return fmt.Errorf("refstore: transaction already open")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("refstore: begin transaction: %w", err)
	}

	s.tx = tx

	return nil
}

func (s *Store) Commit(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tx == nil {
		return nil
	}

	err := s.tx.Commit()
	s.tx = nil

	return err
}

func (s *Store) Rollback(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tx == nil {
		return nil
	}

	err := s.tx.Rollback()
	s.tx = nil

	return err
}

// --- Schema ---------------------------------------------------------------

func (s *Store) CheckSchema(ctx context.Context, table string) (cloudsync.RelationalSchemaObject, cloudsync.DatabaseSchema, error) {
	ts, ok := s.schemas[table]
	if !ok {
		return cloudsync.RelationalSchemaObject{}, cloudsync.DatabaseSchema{}, fmt.Errorf("refstore: no schema registered for table %q", table)
	}

	return ts.Local, ts.Cloud, nil
}

func (s *Store) GetPrimaryColNamesWithAssetsFields(ctx context.Context, table string) ([]string, []cloudsync.AssetField, error) {
	ts, ok := s.schemas[table]
	if !ok {
		return nil, nil, fmt.Errorf("refstore: no schema registered for table %q", table)
	}

	return ts.PKCols, ts.AssetFields, nil
}

// --- Watermarks ------------------------------------------------------------

func (s *Store) GetCloudWaterMark(ctx context.Context, table string) (string, error) {
	var mark string

	err := s.execer().QueryRowContext(ctx,
		`SELECT cloud_cursor FROM watermarks WHERE table_name = ?`, table).Scan(&mark)
	if err == sql.ErrNoRows {
		return "", nil
	}

	return mark, err
}

func (s *Store) SetCloudWaterMark(ctx context.Context, table, mark string) error {
	_, err := s.execer().ExecContext(ctx, `
		INSERT INTO watermarks (table_name, cloud_cursor, local_mark) VALUES (?, ?, 0)
		ON CONFLICT(table_name) DO UPDATE SET cloud_cursor = excluded.cloud_cursor`,
		table, mark)

	return err
}

func (s *Store) GetLocalWaterMark(ctx context.Context, table string) (uint64, error) {
	var mark int64

	err := s.execer().QueryRowContext(ctx,
		`SELECT local_mark FROM watermarks WHERE table_name = ?`, table).Scan(&mark)
	if err == sql.ErrNoRows {
		return 0, nil
	}

	return uint64(mark), err
}

func (s *Store) PutLocalWaterMark(ctx context.Context, table string, mark uint64) error {
	_, err := s.execer().ExecContext(ctx, `
		INSERT INTO watermarks (table_name, cloud_cursor, local_mark) VALUES (?, '', ?)
		ON CONFLICT(table_name) DO UPDATE SET local_mark = excluded.local_mark`,
		table, int64(mark))

	return err
}

// --- Row encoding -----------------------------------------------------------

func encodeValue(v cloudsync.Value) any {
	switch v.Kind {
	case cloudsync.KindNil:
		return map[string]any{"k": "nil"}
	case cloudsync.KindInt64:
		return map[string]any{"k": "i", "v": v.Int}
	case cloudsync.KindDouble:
		return map[string]any{"k": "d", "v": v.Double}
	case cloudsync.KindBool:
		return map[string]any{"k": "b", "v": v.Bool}
	case cloudsync.KindString:
		return map[string]any{"k": "s", "v": v.Str}
	case cloudsync.KindBytes:
		return map[string]any{"k": "y", "v": v.Bytes}
	case cloudsync.KindAsset:
		return map[string]any{"k": "a", "v": v.Asset}
	case cloudsync.KindAssets:
		return map[string]any{"k": "as", "v": v.Assets}
	default:
		return map[string]any{"k": "nil"}
	}
}

func canonicalPrimaryKey(pk map[string]cloudsync.Value) string {
	cols := make([]string, 0, len(pk))
	for c := range pk {
		cols = append(cols, c)
	}

	sort.Strings(cols)

	parts := make([]string, 0, len(cols))

	for _, c := range cols {
		b, _ := json.Marshal(encodeValue(pk[c]))
		parts = append(parts, c+"="+string(b))
	}

	return strings.Join(parts, "&")
}

func encodeRecord(rec *cloudsync.VBucket) (string, error) {
	m := make(map[string]any, len(rec.Cols()))
	for _, c := range rec.Cols() {
		v, _ := rec.Get(c)
		m[c] = encodeValue(v)
	}

	b, err := json.Marshal(m)

	return string(b), err
}

func encodeAssets(assets map[string][]cloudsync.Asset) (string, error) {
	b, err := json.Marshal(assets)
	return string(b), err
}

func decodeAssets(data string) (map[string][]cloudsync.Asset, error) {
	if data == "" {
		return map[string][]cloudsync.Asset{}, nil
	}

	var out map[string][]cloudsync.Asset
	err := json.Unmarshal([]byte(data), &out)

	return out, err
}

// --- Lookups ----------------------------------------------------------------

func (s *Store) GetInfoByPrimaryKeyOrGid(ctx context.Context, table string, gid string, primaryKey map[string]cloudsync.Value) (cloudsync.RecordInfo, error) {
	var (
		row      *sql.Row
		pkString = canonicalPrimaryKey(primaryKey)
	)

	if len(primaryKey) > 0 {
		row = s.execer().QueryRowContext(ctx,
			`SELECT gid, timestamp, w_timestamp, deleted, assets_json FROM rows WHERE table_name = ? AND primary_key = ?`,
			table, pkString)
	} else if gid != "" {
		row = s.execer().QueryRowContext(ctx,
			`SELECT gid, timestamp, w_timestamp, deleted, assets_json FROM rows WHERE table_name = ? AND gid = ?`,
			table, gid)
	} else {
		return cloudsync.RecordInfo{}, nil
	}

	var (
		foundGid            string
		timestamp, wTime    int64
		deletedInt          int
		assetsJSON          string
	)

	err := row.Scan(&foundGid, &timestamp, &wTime, &deletedInt, &assetsJSON)
	if err == sql.ErrNoRows {
		return cloudsync.RecordInfo{}, nil
	}

	if err != nil {
		return cloudsync.RecordInfo{}, err
	}

	assets, err := decodeAssets(assetsJSON)
	if err != nil {
		return cloudsync.RecordInfo{}, err
	}

	log := cloudsync.LogInfo{Timestamp: timestamp, WTimestamp: wTime, CloudGid: foundGid}
	if deletedInt != 0 {
		log.Flag |= cloudsync.LogFlagDeleted
	}

	return cloudsync.RecordInfo{Exists: true, Log: log, PrimaryKey: primaryKey, Assets: assets}, nil
}

// --- Download apply ----------------------------------------------------------

// PutCloudSyncData applies one tagged download batch. Rows with no declared
// primary key columns get a synthetic uuid-based key, returned via
// insertedKeys for the caller's deferred ChangedData bookkeeping.
func (s *Store) PutCloudSyncData(ctx context.Context, table string, batch cloudsync.DownloadBatch) (map[int][]cloudsync.Value, error) {
	ts := s.schemas[table]
	insertedKeys := make(map[int][]cloudsync.Value)

	for i, rec := range batch.Records {
		pk := make(map[string]cloudsync.Value, len(ts.PKCols))
		for _, col := range ts.PKCols {
			if v, ok := rec.Data.Get(col); ok {
				pk[col] = v
			}
		}

		if len(ts.PKCols) == 0 {
			synthetic := uuid.NewString()
			pk["_rowid"] = cloudsync.StringValue(synthetic)
			insertedKeys[i] = []cloudsync.Value{pk["_rowid"]}
		}

		pkString := canonicalPrimaryKey(pk)

		switch rec.Op {
		case cloudsync.OpDelete:
			if _, err := s.execer().ExecContext(ctx,
				`UPDATE rows SET deleted = 1, gid = ? WHERE table_name = ? AND primary_key = ?`,
				rec.Gid, table, pkString); err != nil {
				return nil, err
			}

		case cloudsync.OpClearGidFlag:
			if _, err := s.execer().ExecContext(ctx,
				`UPDATE rows SET gid = '' WHERE table_name = ? AND primary_key = ?`,
				table, pkString); err != nil {
				return nil, err
			}

		case cloudsync.OpOnlyUpdateGid, cloudsync.OpNotHandle:
			if _, err := s.execer().ExecContext(ctx,
				`UPDATE rows SET gid = ? WHERE table_name = ? AND primary_key = ?`,
				rec.Gid, table, pkString); err != nil {
				return nil, err
			}

		case cloudsync.OpInsert, cloudsync.OpUpdate:
			dataJSON, err := encodeRecord(rec.Data)
			if err != nil {
				return nil, err
			}

			assets := make(map[string][]cloudsync.Asset)
			for _, f := range ts.AssetFields {
				if v, ok := rec.Data.Get(f.ColName); ok {
					switch v.Kind {
					case cloudsync.KindAsset:
						assets[f.ColName] = []cloudsync.Asset{v.Asset}
					case cloudsync.KindAssets:
						assets[f.ColName] = v.Assets
					}
				}
			}

			assetsJSON, err := encodeAssets(assets)
			if err != nil {
				return nil, err
			}

			if _, err := s.execer().ExecContext(ctx, `
				INSERT INTO rows (table_name, primary_key, gid, data_json, assets_json, timestamp, w_timestamp, deleted, pending)
				VALUES (?, ?, ?, ?, ?, ?, ?, 0, 0)
				ON CONFLICT(table_name, primary_key) DO UPDATE SET
					gid = excluded.gid, data_json = excluded.data_json, assets_json = excluded.assets_json,
					timestamp = excluded.timestamp, w_timestamp = excluded.w_timestamp, deleted = 0`,
				table, pkString, rec.Gid, dataJSON, assetsJSON, 0, 0); err != nil {
				return nil, err
			}
		}
	}

	return insertedKeys, nil
}

// --- Upload side --------------------------------------------------------

func (s *Store) GetUploadCount(ctx context.Context, table string, waterMark uint64) (int64, error) {
	var count int64

	err := s.execer().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM rows WHERE table_name = ? AND timestamp > ?`,
		table, int64(waterMark)).Scan(&count)

	return count, err
}

const uploadPageSize = 100

type continueState struct {
	Table     string
	WaterMark uint64
	Offset    int
}

func (s *Store) GetCloudData(ctx context.Context, table string, waterMark uint64) (cloudsync.UploadBatch, cloudsync.Status, *cloudsync.ContinueToken, error) {
	return s.fetchUploadPage(ctx, &continueState{Table: table, WaterMark: waterMark, Offset: 0})
}

func (s *Store) GetCloudDataNext(ctx context.Context, token *cloudsync.ContinueToken) (cloudsync.UploadBatch, cloudsync.Status, error) {
	st, ok := token.Data.(*continueState)
	if !ok {
		return cloudsync.UploadBatch{}, cloudsync.StatusInvalidArgs, fmt.Errorf("refstore: malformed continue token")
	}

	batch, status, next, err := s.fetchUploadPage(ctx, st)
	if next != nil {
		token.Data = next.Data
	}

	return batch, status, err
}

func (s *Store) fetchUploadPage(ctx context.Context, st *continueState) (cloudsync.UploadBatch, cloudsync.Status, *cloudsync.ContinueToken, error) {
	batch := cloudsync.UploadBatch{TableName: st.Table}

	rows, err := s.execer().QueryContext(ctx, `
		SELECT gid, data_json, timestamp, w_timestamp, deleted
		FROM rows WHERE table_name = ? AND timestamp > ?
		ORDER BY timestamp ASC LIMIT ? OFFSET ?`,
		st.Table, int64(st.WaterMark), uploadPageSize, st.Offset)
	if err != nil {
		return batch, cloudsync.StatusInternalError, nil, err
	}
	defer rows.Close()

	n := 0

	for rows.Next() {
		n++

		var (
			gid, dataJSON string
			timestamp, wt int64
			deletedInt    int
		)

		if err := rows.Scan(&gid, &dataJSON, &timestamp, &wt, &deletedInt); err != nil {
			return batch, cloudsync.StatusInternalError, nil, err
		}

		rec, err := decodeRecord(dataJSON)
		if err != nil {
			return batch, cloudsync.StatusInternalError, nil, err
		}

		extend := map[string]cloudsync.Value{
			cloudsync.FieldModifyTime: cloudsync.Int64Value(timestamp),
			cloudsync.FieldCreateTime: cloudsync.Int64Value(wt),
		}
		if gid != "" {
			extend[cloudsync.FieldGid] = cloudsync.StringValue(gid)
		}

		switch {
		case deletedInt != 0:
			batch.Del.Record = append(batch.Del.Record, rec)
			batch.Del.Extend = append(batch.Del.Extend, extend)
		case gid == "":
			batch.Ins.Record = append(batch.Ins.Record, rec)
			batch.Ins.Extend = append(batch.Ins.Extend, extend)
		default:
			batch.Upd.Record = append(batch.Upd.Record, rec)
			batch.Upd.Extend = append(batch.Upd.Extend, extend)
		}
	}

	if err := rows.Err(); err != nil {
		return batch, cloudsync.StatusInternalError, nil, err
	}

	if n < uploadPageSize {
		return batch, cloudsync.StatusQueryEnd, nil, nil
	}

	next := &cloudsync.ContinueToken{Table: st.Table, Data: &continueState{Table: st.Table, WaterMark: st.WaterMark, Offset: st.Offset + n}}

	return batch, cloudsync.StatusOK, next, nil
}

func (s *Store) ReleaseContinueToken(ctx context.Context, token *cloudsync.ContinueToken) error {
	return nil
}

func decodeValue(raw json.RawMessage) (cloudsync.Value, error) {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return cloudsync.Value{}, err
	}

	var kind string
	if err := json.Unmarshal(m["k"], &kind); err != nil {
		return cloudsync.Value{}, err
	}

	switch kind {
	case "nil":
		return cloudsync.NilValue(), nil
	case "i":
		var v int64
		err := json.Unmarshal(m["v"], &v)
		return cloudsync.Int64Value(v), err
	case "d":
		var v float64
		err := json.Unmarshal(m["v"], &v)
		return cloudsync.DoubleValue(v), err
	case "b":
		var v bool
		err := json.Unmarshal(m["v"], &v)
		return cloudsync.BoolValue(v), err
	case "s":
		var v string
		err := json.Unmarshal(m["v"], &v)
		return cloudsync.StringValue(v), err
	case "y":
		var v []byte
		err := json.Unmarshal(m["v"], &v)
		return cloudsync.BytesValue(v), err
	case "a":
		var v cloudsync.Asset
		err := json.Unmarshal(m["v"], &v)
		return cloudsync.AssetValue(v), err
	case "as":
		var v []cloudsync.Asset
		err := json.Unmarshal(m["v"], &v)
		return cloudsync.AssetsValue(v), err
	default:
		return cloudsync.NilValue(), nil
	}
}

func decodeRecord(data string) (*cloudsync.VBucket, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(data), &raw); err != nil {
		return nil, err
	}

	cols := make([]string, 0, len(raw))
	for c := range raw {
		cols = append(cols, c)
	}

	sort.Strings(cols)

	rec := cloudsync.NewVBucket()

	for _, c := range cols {
		v, err := decodeValue(raw[c])
		if err != nil {
			return nil, err
		}

		rec.Set(c, v)
	}

	return rec, nil
}

// --- Post-upload fill-back ------------------------------------------------

func (s *Store) FillCloudGidAndAsset(ctx context.Context, op cloudsync.OpType, batch cloudsync.UploadBatch) error {
	var recs []*cloudsync.VBucket
	var extends []map[string]cloudsync.Value

	switch op {
	case cloudsync.OpInsert:
		recs, extends = batch.Ins.Record, batch.Ins.Extend
	case cloudsync.OpUpdate:
		recs, extends = batch.Upd.Record, batch.Upd.Extend
	default:
		return fmt.Errorf("refstore: FillCloudGidAndAsset called with unsupported op %s", op)
	}

	ts := s.schemas[batch.TableName]

	for i, rec := range recs {
		pk := make(map[string]cloudsync.Value, len(ts.PKCols))
		for _, col := range ts.PKCols {
			if v, ok := rec.Get(col); ok {
				pk[col] = v
			}
		}

		gid := ""
		if v, ok := extends[i][cloudsync.FieldGid]; ok && v.Kind == cloudsync.KindString {
			gid = v.Str
		}

		if _, err := s.execer().ExecContext(ctx,
			`UPDATE rows SET gid = ? WHERE table_name = ? AND primary_key = ?`,
			gid, batch.TableName, canonicalPrimaryKey(pk)); err != nil {
			return err
		}
	}

	return nil
}

func (s *Store) FillCloudAssetForDownload(ctx context.Context, table string, gid string, normalAssets, failedAssets map[string][]cloudsync.Asset) error {
	merged := make(map[string][]cloudsync.Asset, len(normalAssets)+len(failedAssets))
	for k, v := range normalAssets {
		merged[k] = v
	}

	for k, v := range failedAssets {
		merged[k] = append(merged[k], v...)
	}

	assetsJSON, err := encodeAssets(merged)
	if err != nil {
		return err
	}

	_, err = s.execer().ExecContext(ctx,
		`UPDATE rows SET assets_json = ? WHERE table_name = ? AND gid = ?`, assetsJSON, table, gid)

	return err
}

// --- Notification / clean --------------------------------------------------

func (s *Store) NotifyChangedData(ctx context.Context, changed cloudsync.ChangedData) error {
	s.changesMu.Lock()
	s.changes = append(s.changes, changed)
	s.changesMu.Unlock()

	return nil
}

// Changes returns every ChangedData notification recorded so far, for test
// assertions and the demo CLI's summary output.
func (s *Store) Changes() []cloudsync.ChangedData {
	s.changesMu.Lock()
	defer s.changesMu.Unlock()

	return append([]cloudsync.ChangedData(nil), s.changes...)
}

func (s *Store) CleanCloudData(ctx context.Context, mode cloudsync.CleanMode, tables []string) ([]cloudsync.Asset, error) {
	var removed []cloudsync.Asset

	for _, table := range tables {
		if mode == cloudsync.CleanFlagAndData {
			rows, err := s.execer().QueryContext(ctx,
				`SELECT assets_json FROM rows WHERE table_name = ? AND gid != ''`, table)
			if err != nil {
				return nil, err
			}

			var assetsJSONs []string
			for rows.Next() {
				var assetsJSON string
				if err := rows.Scan(&assetsJSON); err != nil {
					rows.Close()
					return nil, err
				}
				assetsJSONs = append(assetsJSONs, assetsJSON)
			}
			if err := rows.Err(); err != nil {
				rows.Close()
				return nil, err
			}
			rows.Close()

			for _, assetsJSON := range assetsJSONs {
				assets, err := decodeAssets(assetsJSON)
				if err != nil {
					return nil, err
				}
				for _, list := range assets {
					removed = append(removed, list...)
				}
			}
		}

		if _, err := s.execer().ExecContext(ctx,
			`UPDATE rows SET gid = '' WHERE table_name = ?`, table); err != nil {
			return nil, err
		}
	}

	return removed, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
