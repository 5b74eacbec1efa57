package storage

// Dialect SQL方言接口（对外导出）
// 封装SQLite/MySQL/PostgreSQL之间的SQL语法差异，
// 共享的SQLStore实现通过方言生成DDL与UPSERT语句
type Dialect interface {
	// Name 返回方言名称（如 "sqlite", "mysql", "postgres"）
	Name() string

	// DriverName 返回database/sql驱动名称
	DriverName() string

	// UpsertSQL 返回INSERT或UPDATE的SQL语句（命名参数形式）
	// tableName: 表名
	// columns: 列名列表
	// conflictColumns: 冲突判断列（主键或唯一键）
	// updateColumns: 冲突时需要更新的列（不含主键）
	UpsertSQL(tableName string, columns []string, conflictColumns []string, updateColumns []string) string

	// ConfigureDB 配置数据库连接（如SQLite的PRAGMA）
	// 返回建连后需要执行的SQL语句列表
	ConfigureDB() []string

	// BooleanType 返回布尔类型
	// SQLite: INTEGER; MySQL: TINYINT(1); PostgreSQL: BOOLEAN
	BooleanType() string

	// TimestampType 返回时间戳类型
	// SQLite/MySQL: DATETIME; PostgreSQL: TIMESTAMP
	TimestampType() string

	// TableOptions 返回建表语句尾部选项
	// MySQL需要指定引擎与字符集，其他数据库为空
	TableOptions() string
}
