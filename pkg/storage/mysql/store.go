package mysql

import (
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"

	"github.com/LENAX/dagflow/pkg/storage"
)

// NewStore 基于已有连接创建MySQL存储（对外导出）
func NewStore(db *sqlx.DB) (*storage.SQLStore, error) {
	return storage.NewSQLStore(db, NewMySQLDialect())
}

// NewStoreFromDSN 通过DSN创建MySQL存储（对外导出）
// dsn格式: user:password@tcp(host:port)/dbname?parseTime=true
func NewStoreFromDSN(dsn string) (*storage.SQLStore, error) {
	// 时间字段依赖parseTime=true，缺失时自动补上
	if !strings.Contains(dsn, "parseTime=true") {
		if strings.Contains(dsn, "?") {
			dsn += "&parseTime=true"
		} else {
			dsn += "?parseTime=true"
		}
	}

	dialect := NewMySQLDialect()
	db, err := sqlx.Open(dialect.DriverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("打开数据库失败: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("数据库连接失败: %w", err)
	}

	// 配置MySQL会话
	for _, stmt := range dialect.ConfigureDB() {
		if _, err := db.Exec(stmt); err != nil {
			// 忽略配置错误，继续执行
		}
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return NewStore(db)
}
