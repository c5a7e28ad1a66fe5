package backtest

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"tradegate/internal/gateway/exchange"
	"tradegate/internal/market"

	"golang.org/x/time/rate"
	_ "modernc.org/sqlite"
)

// CandleCache 把历史 K 线按 symbol/timeframe 分文件缓存在本地 sqlite。
type CandleCache struct {
	root string

	mu  sync.Mutex
	dbs map[string]*sql.DB
}

// Manifest 记录某个 symbol@timeframe 缓存文件的统计信息。
type Manifest struct {
	Symbol     string `json:"symbol"`
	Timeframe  string `json:"timeframe"`
	MinTime    int64  `json:"min_time"`
	MaxTime    int64  `json:"max_time"`
	Rows       int64  `json:"rows"`
	LastSyncAt int64  `json:"last_sync_at"`
}

func NewCandleCache(root string) (*CandleCache, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("candle cache root 不能为空")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &CandleCache{root: root, dbs: make(map[string]*sql.DB)}, nil
}

func (s *CandleCache) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for k, db := range s.dbs {
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(s.dbs, k)
	}
	return firstErr
}

func (s *CandleCache) db(symbol string, tf market.Timeframe) (*sql.DB, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" || !tf.Valid() {
		return nil, fmt.Errorf("symbol/timeframe 不能为空")
	}
	key := symbol + "@" + string(tf)
	s.mu.Lock()
	defer s.mu.Unlock()
	if db, ok := s.dbs[key]; ok {
		return db, nil
	}
	path := filepath.Join(s.root, symbol, string(tf)+".db")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := ensureCacheSchema(db, symbol, tf); err != nil {
		_ = db.Close()
		return nil, err
	}
	s.dbs[key] = db
	return db, nil
}

func ensureCacheSchema(db *sql.DB, symbol string, tf market.Timeframe) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS candles (
			open_time  INTEGER PRIMARY KEY,
			close_time INTEGER NOT NULL,
			open       REAL NOT NULL,
			high       REAL NOT NULL,
			low        REAL NOT NULL,
			close      REAL NOT NULL,
			volume     REAL NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS manifest (
			id INTEGER PRIMARY KEY CHECK (id=1),
			symbol TEXT NOT NULL,
			timeframe TEXT NOT NULL,
			min_time INTEGER DEFAULT 0,
			max_time INTEGER DEFAULT 0,
			rows INTEGER DEFAULT 0,
			last_sync_at INTEGER DEFAULT 0
		);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	_, err := db.Exec(`INSERT INTO manifest (id, symbol, timeframe) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET symbol=excluded.symbol, timeframe=excluded.timeframe`, symbol, string(tf))
	return err
}

// Insert 批量写入 K 线，重复 open_time 覆盖。
func (s *CandleCache) Insert(ctx context.Context, symbol string, tf market.Timeframe, candles []market.Candle) (int, error) {
	if len(candles) == 0 {
		return 0, nil
	}
	db, err := s.db(symbol, tf)
	if err != nil {
		return 0, err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO candles (open_time, close_time, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(open_time) DO UPDATE SET
		    close_time=excluded.close_time,
		    open=excluded.open,
		    high=excluded.high,
		    low=excluded.low,
		    close=excluded.close,
		    volume=excluded.volume`)
	if err != nil {
		_ = tx.Rollback()
		return 0, err
	}
	defer stmt.Close()
	for _, c := range candles {
		if _, err := stmt.ExecContext(ctx, c.OpenTime, c.CloseTime, c.Open, c.High, c.Low, c.Close, c.Volume); err != nil {
			_ = tx.Rollback()
			return 0, err
		}
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE manifest
		SET min_time = (SELECT COALESCE(MIN(open_time), 0) FROM candles),
		    max_time = (SELECT COALESCE(MAX(open_time), 0) FROM candles),
		    rows = (SELECT COUNT(1) FROM candles),
		    last_sync_at = ?
		WHERE id = 1`, time.Now().UnixMilli()); err != nil {
		_ = tx.Rollback()
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(candles), nil
}

// Range 返回开盘时间落在 [start, end] 的 K 线，按时间升序。
func (s *CandleCache) Range(ctx context.Context, symbol string, tf market.Timeframe, start, end int64) ([]market.Candle, error) {
	db, err := s.db(symbol, tf)
	if err != nil {
		return nil, err
	}
	if end < start {
		start, end = end, start
	}
	rows, err := db.QueryContext(ctx, `
		SELECT open_time, close_time, open, high, low, close, volume
		FROM candles
		WHERE open_time BETWEEN ? AND ?
		ORDER BY open_time ASC`, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []market.Candle
	for rows.Next() {
		var c market.Candle
		if err := rows.Scan(&c.OpenTime, &c.CloseTime, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, err
		}
		list = append(list, c)
	}
	return list, rows.Err()
}

func (s *CandleCache) Manifest(ctx context.Context, symbol string, tf market.Timeframe) (Manifest, error) {
	db, err := s.db(symbol, tf)
	if err != nil {
		return Manifest{}, err
	}
	var m Manifest
	err = db.QueryRowContext(ctx, `SELECT symbol, timeframe, min_time, max_time, rows, last_sync_at FROM manifest WHERE id=1`).
		Scan(&m.Symbol, &m.Timeframe, &m.MinTime, &m.MaxTime, &m.Rows, &m.LastSyncAt)
	return m, err
}

// CachedSource 优先读本地缓存，区间不完整时限速回源并写回缓存。
type CachedSource struct {
	upstream exchange.CandleFetcher
	cache    *CandleCache
	limiter  *rate.Limiter
	now      func() time.Time
}

var _ exchange.CandleFetcher = (*CachedSource)(nil)

func NewCachedSource(upstream exchange.CandleFetcher, cache *CandleCache, ratePerMin int) *CachedSource {
	limit := rate.Limit(float64(ratePerMin) / 60.0)
	if ratePerMin <= 0 {
		limit = rate.Inf
	}
	return &CachedSource{
		upstream: upstream,
		cache:    cache,
		limiter:  rate.NewLimiter(limit, 1),
		now:      time.Now,
	}
}

func (s *CachedSource) Klines(ctx context.Context, symbol string, tf market.Timeframe, start, end time.Time, limit int) ([]market.Candle, error) {
	from, to, expected := expectedBars(tf, start, end, s.now())
	if s.cache != nil && expected > 0 {
		cached, err := s.cache.Range(ctx, symbol, tf, from, to)
		if err != nil {
			backtestLog.Warnf("读取 K 线缓存失败 %s %s: %v", symbol, tf, err)
		} else if len(cached) >= expected {
			backtestLog.Debugf("K 线缓存命中 %s %s rows=%d", symbol, tf, len(cached))
			return trimLimit(cached, limit), nil
		}
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	candles, err := s.upstream.Klines(ctx, symbol, tf, start, end, limit)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		if _, err := s.cache.Insert(ctx, symbol, tf, candles); err != nil {
			backtestLog.Warnf("写入 K 线缓存失败 %s %s: %v", symbol, tf, err)
		}
	}
	return candles, nil
}

// expectedBars 返回区间内应有的已收盘 K 线数量及对齐后的开盘时间范围。
func expectedBars(tf market.Timeframe, start, end, now time.Time) (int64, int64, int) {
	bar := tf.Duration().Milliseconds()
	if bar <= 0 {
		return 0, 0, 0
	}
	from := start.UnixMilli()
	if rem := from % bar; rem != 0 {
		from += bar - rem
	}
	to := end.UnixMilli()
	if latest := now.UnixMilli() - bar; to > latest {
		to = latest
	}
	to -= to % bar
	if to < from {
		return from, to, 0
	}
	return from, to, int((to-from)/bar) + 1
}

func trimLimit(candles []market.Candle, limit int) []market.Candle {
	if limit > 0 && len(candles) > limit {
		return candles[len(candles)-limit:]
	}
	return candles
}
