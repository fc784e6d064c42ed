// Package sqlkv 在 database/sql 之上实现 kv.Backend。
// 数据保存在单表 ledger_kv(k, v) 中，各数据库只在 upsert 语法上不同。
package sqlkv

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	xerrors "AgentLedger-Chain/internal/errors"
	"AgentLedger-Chain/internal/kv"
)

const defaultPageSize = 256

// Dialect 描述数据库相关的语句差异。
type Dialect struct {
	Name   string
	Upsert string
}

var (
	MySQL  = Dialect{Name: "mysql", Upsert: `INSERT INTO ledger_kv (k, v) VALUES (?, ?) ON DUPLICATE KEY UPDATE v = VALUES(v)`}
	SQLite = Dialect{Name: "sqlite", Upsert: `INSERT INTO ledger_kv (k, v) VALUES (?, ?) ON CONFLICT(k) DO UPDATE SET v = excluded.v`}
)

// Store 是基于 SQL 表的 kv.Backend。
type Store struct {
	db       *sql.DB
	dialect  Dialect
	pageSize int
}

var _ kv.Backend = (*Store)(nil)

// New 在已有连接上构造存储，表结构由调用方负责创建。
func New(db *sql.DB, dialect Dialect, pageSize int) *Store {
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	return &Store{db: db, dialect: dialect, pageSize: pageSize}
}

// DB 返回底层连接池。
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) wrap(err error, op string) error {
	return xerrors.Wrap(xerrors.CodeStorageFailure, err, s.dialect.Name+" "+op)
}

// Get 实现 kv.Reader。
func (s *Store) Get(key []byte) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(context.Background(), `SELECT v FROM ledger_kv WHERE k = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, s.wrap(err, "get")
	}
	if value == nil {
		value = []byte{}
	}
	return value, nil
}

type row struct {
	key, value []byte
}

type bound struct {
	key    []byte
	strict bool
}

// Iterate 按页拉取 [start, end) 区间。每页读完即释放连接，回调中可以继续读取存储。
func (s *Store) Iterate(start, end []byte, order kv.Order, fn kv.Visitor) error {
	lower := bound{key: start}
	upper := bound{key: end, strict: true}
	for {
		page, err := s.page(lower, upper, order)
		if err != nil {
			return err
		}
		for _, r := range page {
			next, err := fn(r.key, r.value)
			if err != nil {
				return err
			}
			if !next {
				return nil
			}
		}
		if len(page) < s.pageSize {
			return nil
		}
		last := bound{key: page[len(page)-1].key, strict: true}
		if order == kv.Descending {
			upper = last
		} else {
			lower = last
		}
	}
}

func (s *Store) page(lower, upper bound, order kv.Order) ([]row, error) {
	var (
		conds []string
		args  []any
	)
	if lower.key != nil {
		if lower.strict {
			conds = append(conds, "k > ?")
		} else {
			conds = append(conds, "k >= ?")
		}
		args = append(args, lower.key)
	}
	if upper.key != nil {
		if upper.strict {
			conds = append(conds, "k < ?")
		} else {
			conds = append(conds, "k <= ?")
		}
		args = append(args, upper.key)
	}
	query := "SELECT k, v FROM ledger_kv"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	if order == kv.Descending {
		query += " ORDER BY k DESC"
	} else {
		query += " ORDER BY k ASC"
	}
	query += " LIMIT ?"
	args = append(args, s.pageSize)

	rows, err := s.db.QueryContext(context.Background(), query, args...)
	if err != nil {
		return nil, s.wrap(err, "scan")
	}
	defer rows.Close()

	out := make([]row, 0, s.pageSize)
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.key, &r.value); err != nil {
			return nil, s.wrap(err, "scan row")
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, s.wrap(err, "scan rows")
	}
	return out, nil
}

// Apply 在单个事务中写入批次。
func (s *Store) Apply(ctx context.Context, ops []kv.Op) error {
	if len(ops) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.wrap(err, "begin")
	}
	for _, op := range ops {
		if op.Delete {
			_, err = tx.ExecContext(ctx, `DELETE FROM ledger_kv WHERE k = ?`, op.Key)
		} else {
			_, err = tx.ExecContext(ctx, s.dialect.Upsert, op.Key, op.Value)
		}
		if err != nil {
			tx.Rollback()
			return s.wrap(err, "apply")
		}
	}
	if err := tx.Commit(); err != nil {
		return s.wrap(err, "commit")
	}
	return nil
}

// Close 关闭连接池。
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
