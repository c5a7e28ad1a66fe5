package gormstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"tradegate/internal/pkg/apperr"
	storemodel "tradegate/internal/store/model"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Options 选择数据库驱动。sqlite 下 DSN 为空时由 Path 生成。
type Options struct {
	Driver string
	DSN    string
	Path   string
}

// GormStore 持久化策略、信号、订单、回测结果与规则版本。
type GormStore struct {
	db *gorm.DB
}

func Open(opts Options) (*GormStore, error) {
	driver := strings.ToLower(strings.TrimSpace(opts.Driver))
	if driver == "" {
		driver = DriverSQLite
	}
	var dialector gorm.Dialector
	switch driver {
	case DriverSQLite:
		dsn := strings.TrimSpace(opts.DSN)
		if dsn == "" {
			path := strings.TrimSpace(opts.Path)
			if path == "" {
				return nil, fmt.Errorf("gorm store: sqlite 路径不能为空")
			}
			if err := ensureDir(path); err != nil {
				return nil, err
			}
			dsn = fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", path)
		}
		dialector = sqlite.Open(dsn)
	case DriverPostgres:
		if strings.TrimSpace(opts.DSN) == "" {
			return nil, fmt.Errorf("gorm store: postgres dsn 不能为空")
		}
		dialector = postgres.Open(opts.DSN)
	default:
		return nil, fmt.Errorf("gorm store: 不支持的驱动 %q", opts.Driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:                                   gormlogger.Default.LogMode(gormlogger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	if driver == DriverSQLite {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetMaxIdleConns(1)
	}
	return New(db)
}

// New 包装已打开的连接并执行迁移。
func New(db *gorm.DB) (*GormStore, error) {
	if db == nil {
		return nil, fmt.Errorf("gorm store: db 为空")
	}
	if err := db.AutoMigrate(storemodel.All()...); err != nil {
		return nil, fmt.Errorf("gorm store migrate: %w", err)
	}
	return &GormStore{db: db}, nil
}

func (s *GormStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// DB 暴露底层连接，供队列等共享同一个库。
func (s *GormStore) DB() *gorm.DB {
	if s == nil {
		return nil
	}
	return s.db
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.ErrNotFound
	}
	return err
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 50
	}
	if limit > 500 {
		return 500
	}
	return limit
}
