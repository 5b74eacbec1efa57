package sqlite

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/LENAX/dagflow/pkg/storage"
)

// NewStore 基于已有连接创建SQLite存储（对外导出）
func NewStore(db *sqlx.DB) (*storage.SQLStore, error) {
	return storage.NewSQLStore(db, NewSQLiteDialect())
}

// NewStoreFromDSN 通过DSN创建SQLite存储（对外导出）
// dsn为数据库文件路径，":memory:"表示内存数据库
func NewStoreFromDSN(dsn string) (*storage.SQLStore, error) {
	dialect := NewSQLiteDialect()
	db, err := sqlx.Open(dialect.DriverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("打开数据库失败: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("数据库连接失败: %w", err)
	}

	// 配置SQLite优化
	for _, pragma := range dialect.ConfigureDB() {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("配置SQLite失败: %w", err)
		}
	}

	// SQLite写并发受限，单连接避免SQLITE_BUSY
	db.SetMaxOpenConns(1)

	return NewStore(db)
}
