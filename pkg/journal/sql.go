package journal

import (
	"context"
	"database/sql"
	stdErrors "errors"
	"strconv"
	"strings"
	"time"

	xerrors "BReact-SDK/pkg/errors"
	"BReact-SDK/pkg/job"
	"github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// Dialect 描述不同数据库在占位符与冲突写入上的差异。
type Dialect string

const (
	DialectMySQL    Dialect = "mysql"
	DialectPostgres Dialect = "postgres"
)

func (d Dialect) driverName() string {
	if d == DialectPostgres {
		return "pgx"
	}
	return "mysql"
}

// rebind 将 ? 占位符转换为 PostgreSQL 的 $n 形式。
func (d Dialect) rebind(query string) string {
	if d != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (d Dialect) insertIgnore() string {
	const cols = ` INTO breact_jobs
        (process_id, access_token, service_id, endpoint, status, result, error, submitted_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if d == DialectPostgres {
		return "INSERT" + cols + " ON CONFLICT (process_id) DO NOTHING"
	}
	return "INSERT IGNORE" + cols
}

func (d Dialect) schema() string {
	if d == DialectPostgres {
		return `CREATE TABLE IF NOT EXISTS breact_jobs (
        process_id VARCHAR(128) PRIMARY KEY,
        access_token TEXT NOT NULL,
        service_id VARCHAR(255) NOT NULL DEFAULT '',
        endpoint VARCHAR(255) NOT NULL DEFAULT '',
        status VARCHAR(32) NOT NULL,
        result TEXT,
        error TEXT,
        submitted_at BIGINT NOT NULL,
        updated_at BIGINT NOT NULL
)`
	}
	return `CREATE TABLE IF NOT EXISTS breact_jobs (
        process_id VARCHAR(128) PRIMARY KEY,
        access_token TEXT NOT NULL,
        service_id VARCHAR(255) NOT NULL DEFAULT '',
        endpoint VARCHAR(255) NOT NULL DEFAULT '',
        status VARCHAR(32) NOT NULL,
        result MEDIUMTEXT,
        error TEXT,
        submitted_at BIGINT NOT NULL,
        updated_at BIGINT NOT NULL,
        INDEX idx_breact_jobs_status (status),
        INDEX idx_breact_jobs_updated (updated_at)
)`
}

const selectColumns = `SELECT process_id, access_token, service_id, endpoint, status, result, error, submitted_at, updated_at
        FROM breact_jobs`

// SQLStore 使用 MySQL 或 PostgreSQL 保存作业记录。
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

// OpenSQLStore 打开数据库连接、检查连通性并初始化表结构。
func OpenSQLStore(ctx context.Context, dialect Dialect, dsn string) (*SQLStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, xerrors.New(xerrors.CodeConfiguration, "journal DSN 不能为空")
	}
	switch dialect {
	case DialectMySQL:
		if _, err := mysql.ParseDSN(dsn); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeConfiguration, err, "MySQL DSN 无效")
		}
	case DialectPostgres:
	default:
		return nil, xerrors.Newf(xerrors.CodeConfiguration, "不支持的 journal 数据库 %q", dialect)
	}

	db, err := sql.Open(dialect.driverName(), dsn)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "打开数据库失败")
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(10 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "无法连接到数据库")
	}
	store := NewSQLStore(db, dialect)
	if err := store.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// NewSQLStore 包装已打开的连接，不执行建表。
func NewSQLStore(db *sql.DB, dialect Dialect) *SQLStore {
	return &SQLStore{db: db, dialect: dialect, now: time.Now}
}

// Migrate 创建 breact_jobs 表。
func (s *SQLStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, s.dialect.schema()); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化 breact_jobs 表失败")
	}
	return nil
}

// Record 实现 Store 接口，已存在的记录保持不变。
func (s *SQLStore) Record(ctx context.Context, entry Entry) error {
	if err := validateRecord(entry); err != nil {
		return err
	}
	return s.insert(ctx, stamp(entry, s.now()))
}

func (s *SQLStore) insert(ctx context.Context, e Entry) error {
	_, err := s.db.ExecContext(ctx, s.dialect.rebind(s.dialect.insertIgnore()),
		e.Handle.ProcessID,
		e.Handle.AccessToken,
		e.ServiceID,
		e.Endpoint,
		string(e.Status),
		nullString(string(e.Result)),
		nullString(e.Error),
		e.SubmittedAt.UnixMilli(),
		e.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入作业记录失败")
	}
	return nil
}

// Finish 仅在记录尚未进入终态时更新，随后返回保存的记录。
func (s *SQLStore) Finish(ctx context.Context, entry Entry) (Entry, error) {
	if err := validateFinish(entry); err != nil {
		return Entry{}, err
	}
	const stmt = `UPDATE breact_jobs SET status = ?, result = ?, error = ?, updated_at = ?
        WHERE process_id = ? AND status NOT IN (?, ?)`

	now := s.now()
	res, err := s.db.ExecContext(ctx, s.dialect.rebind(stmt),
		string(entry.Status),
		nullString(string(entry.Result)),
		nullString(entry.Error),
		now.UnixMilli(),
		entry.Handle.ProcessID,
		string(job.StatusCompleted),
		string(job.StatusFailed),
	)
	if err != nil {
		return Entry{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新作业终态失败")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return Entry{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "获取影响行数失败")
	}
	if affected > 0 {
		return s.Get(ctx, entry.Handle.ProcessID)
	}

	stored, err := s.Get(ctx, entry.Handle.ProcessID)
	if err == nil {
		return stored, nil
	}
	if !stdErrors.Is(err, ErrEntryNotFound) {
		return Entry{}, err
	}
	if err := s.insert(ctx, stamp(entry, now)); err != nil {
		return Entry{}, err
	}
	return s.Get(ctx, entry.Handle.ProcessID)
}

// Get 查询指定记录。
func (s *SQLStore) Get(ctx context.Context, processID string) (Entry, error) {
	row := s.db.QueryRowContext(ctx, s.dialect.rebind(selectColumns+" WHERE process_id = ?"), processID)
	e, err := scanEntry(row)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return Entry{}, ErrEntryNotFound
		}
		return Entry{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询作业记录失败")
	}
	return e, nil
}

// List 返回符合条件的记录。
func (s *SQLStore) List(ctx context.Context, opts ...ListOption) ([]Entry, error) {
	o := buildListOptions(opts)

	query := selectColumns
	clause, args := buildFilterClause(o)
	if clause != "" {
		query += " WHERE " + clause
	}
	if o.Order == SortByUpdatedAsc {
		query += " ORDER BY updated_at ASC, process_id ASC"
	} else {
		query += " ORDER BY updated_at DESC, process_id DESC"
	}
	query += " LIMIT ? OFFSET ?"
	args = append(args, o.Limit, o.Offset)

	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(query), args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询作业列表失败")
	}
	defer rows.Close()

	entries := make([]Entry, 0, o.Limit)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析作业记录失败")
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历作业记录失败")
	}
	return entries, nil
}

// Close 关闭底层数据库连接。
func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (Entry, error) {
	var (
		e                      Entry
		status                 string
		result, errMsg         sql.NullString
		submittedAt, updatedAt int64
	)
	if err := row.Scan(
		&e.Handle.ProcessID,
		&e.Handle.AccessToken,
		&e.ServiceID,
		&e.Endpoint,
		&status,
		&result,
		&errMsg,
		&submittedAt,
		&updatedAt,
	); err != nil {
		return Entry{}, err
	}
	e.Status = job.Status(status)
	if result.Valid && result.String != "" {
		e.Result = []byte(result.String)
	}
	e.Error = errMsg.String
	e.SubmittedAt = time.UnixMilli(submittedAt)
	e.UpdatedAt = time.UnixMilli(updatedAt)
	return e, nil
}

func buildFilterClause(opts ListOptions) (string, []any) {
	conditions := make([]string, 0, 3)
	args := make([]any, 0, len(opts.Statuses)+2)
	if len(opts.Statuses) > 0 {
		marks := make([]string, len(opts.Statuses))
		for i, st := range opts.Statuses {
			marks[i] = "?"
			args = append(args, string(st))
		}
		conditions = append(conditions, "status IN ("+strings.Join(marks, ", ")+")")
	}
	if opts.ServiceID != "" {
		conditions = append(conditions, "service_id = ?")
		args = append(args, opts.ServiceID)
	}
	if !opts.UpdatedSince.IsZero() {
		conditions = append(conditions, "updated_at >= ?")
		args = append(args, opts.UpdatedSince.UnixMilli())
	}
	return strings.Join(conditions, " AND "), args
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
