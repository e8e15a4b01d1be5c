package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"PredServe/internal/domain/models"
	pkgch "PredServe/pkg/clickhouse"
	applogger "PredServe/pkg/logger"
)

// CHFeatureStore is the durable (symbol, feature, time) store backed by
// ClickHouse. It serves cold reads for the cached FeatureStore and absorbs
// asynchronous write-behind from the ingestion path.
type CHFeatureStore struct {
	db    *sql.DB
	table string
	l     *applogger.Logger
}

func NewCHFeatureStore(ch *pkgch.Client, table string) *CHFeatureStore {
	if table == "" {
		table = "predserve.feature_values"
	}
	return &CHFeatureStore{db: ch.DB(), table: table}
}

// SetLogger injects a structured logger.
func (s *CHFeatureStore) SetLogger(l *applogger.Logger) { s.l = l }

// GetVector returns the latest vector for symbol at or before asOf.
// Rows of the most recent timestamp are folded into one vector; the
// per-row quality columns are averaged.
func (s *CHFeatureStore) GetVector(ctx context.Context, symbol string, asOf time.Time) (*models.FeatureVector, error) {
	start := time.Now()
	const qtpl = `
        SELECT feature, value, ts, confidence, quality, provider
        FROM %s
        WHERE symbol = ? AND ts = (
            SELECT max(ts) FROM %s WHERE symbol = ? AND ts <= ?
        )
    `
	q := fmt.Sprintf(qtpl, s.table, s.table)
	rows, err := s.db.QueryContext(ctx, q, symbol, symbol, asOf)
	if err != nil {
		if s.l != nil {
			s.l.Error("clickhouse get_vector query error",
				applogger.String("symbol", symbol),
				applogger.Error(err),
			)
		}
		return nil, fmt.Errorf("get vector: %w", err)
	}
	defer rows.Close()

	v := &models.FeatureVector{Symbol: symbol, Features: make(map[string]float64)}
	var confSum, qualSum float64
	n := 0
	for rows.Next() {
		var (
			feature, provider string
			value, conf, qual float64
			ts                time.Time
		)
		if err := rows.Scan(&feature, &value, &ts, &conf, &qual, &provider); err != nil {
			return nil, fmt.Errorf("scan feature row: %w", err)
		}
		v.Features[feature] = value
		v.Timestamp = ts
		v.SourceProvider = provider
		confSum += conf
		qualSum += qual
		n++
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	if n == 0 {
		return nil, models.ErrFeatureMissing
	}
	v.ConfidenceScore = confSum / float64(n)
	v.DataQualityScore = qualSum / float64(n)
	if s.l != nil {
		s.l.Debug("clickhouse get_vector ok",
			applogger.String("symbol", symbol),
			applogger.Int("features", n),
			applogger.Duration("duration_ms", time.Since(start)),
		)
	}
	return v, nil
}

// GetMatrix returns the latest vector per symbol, restricted to the
// requested feature names when given. Symbols without rows are simply
// absent from the result map.
func (s *CHFeatureStore) GetMatrix(ctx context.Context, symbols []string, features []string) (map[string]*models.FeatureVector, error) {
	out := make(map[string]*models.FeatureVector, len(symbols))
	if len(symbols) == 0 {
		return out, nil
	}
	want := make(map[string]bool, len(features))
	for _, f := range features {
		want[f] = true
	}
	// One query per symbol keeps the latest-timestamp subquery simple;
	// batch callers go through the cache layer first anyway.
	for _, sym := range symbols {
		v, err := s.GetVector(ctx, sym, time.Now())
		if err != nil {
			if err == models.ErrFeatureMissing {
				continue
			}
			return nil, err
		}
		if len(want) > 0 {
			for name := range v.Features {
				if !want[name] {
					delete(v.Features, name)
				}
			}
		}
		out[sym] = v
	}
	return out, nil
}

// StoreVector persists one vector, one row per feature.
func (s *CHFeatureStore) StoreVector(ctx context.Context, v *models.FeatureVector) error {
	return s.StoreVectorBatch(ctx, []*models.FeatureVector{v})
}

// StoreVectorBatch persists vectors using multi-row VALUES to reduce
// round-trips. Chunked at 2000 rows per insert.
func (s *CHFeatureStore) StoreVectorBatch(ctx context.Context, vs []*models.FeatureVector) error {
	if len(vs) == 0 {
		return nil
	}
	const chunkRows = 2000
	values := make([]string, 0, chunkRows)
	args := make([]interface{}, 0, chunkRows*6)
	flush := func() error {
		if len(values) == 0 {
			return nil
		}
		q := fmt.Sprintf("INSERT INTO %s (symbol, feature, value, ts, confidence, quality, provider) VALUES %s",
			s.table, strings.Join(values, ","))
		if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("store vectors: %w", err)
		}
		values = values[:0]
		args = args[:0]
		return nil
	}
	for _, v := range vs {
		if v == nil || v.Symbol == "" || len(v.Features) == 0 {
			continue
		}
		for feature, value := range v.Features {
			values = append(values, "(?, ?, ?, ?, ?, ?, ?)")
			args = append(args, v.Symbol, feature, value, v.Timestamp, v.ConfidenceScore, v.DataQualityScore, v.SourceProvider)
			if len(values) >= chunkRows {
				if err := flush(); err != nil {
					return err
				}
			}
		}
	}
	return flush()
}

// Health pings the backing connection pool.
func (s *CHFeatureStore) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close is a no-op; the connection pool is owned by pkg/clickhouse.
func (s *CHFeatureStore) Close() error {
	return nil
}
