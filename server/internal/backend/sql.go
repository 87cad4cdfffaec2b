package backend

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
	_ "modernc.org/sqlite"             // pure go sqlite driver

	"tx-tour/server/internal/model"
)

const (
	snapshotBucket   = "transactions"
	defaultSQLiteDSN = "txtour.db"
)

var sqlOpen = sql.Open

type dialect struct {
	createTable string
	selectState string
	upsertState string
}

var dialects = map[string]dialect{
	"sqlite": {
		createTable: `CREATE TABLE IF NOT EXISTS state (
		bucket TEXT PRIMARY KEY,
		payload BLOB NOT NULL
	)`,
		selectState: `SELECT payload FROM state WHERE bucket = ?`,
		upsertState: `INSERT INTO state (bucket, payload) VALUES (?, ?)
		ON CONFLICT(bucket) DO UPDATE SET payload = excluded.payload`,
	},
	"pgx": {
		createTable: `CREATE TABLE IF NOT EXISTS state (
		bucket TEXT PRIMARY KEY,
		payload BYTEA NOT NULL
	)`,
		selectState: `SELECT payload FROM state WHERE bucket = $1`,
		upsertState: `INSERT INTO state (bucket, payload) VALUES ($1, $2)
		ON CONFLICT (bucket) DO UPDATE SET payload = EXCLUDED.payload`,
	},
}

// SQLStore 在内存存储之上，每次成功变更后把整个集合以 JSON 快照写入数据库。
// 启动时若已有快照则从快照恢复，否则写入 seed。
type SQLStore struct {
	*InMemoryStore
	db      *sql.DB
	dialect dialect
	mu      sync.Mutex
}

// NewSQLStore 打开 driver（sqlite | pgx）对应的数据库并加载快照。
func NewSQLStore(ctx context.Context, driver, dsn string, firstID int, seed []model.Transaction) (*SQLStore, error) {
	d, ok := dialects[driver]
	if !ok {
		return nil, fmt.Errorf("unsupported driver: %s", driver)
	}
	if driver == "sqlite" {
		if dsn == "" {
			dsn = defaultSQLiteDSN
		}
		if err := os.MkdirAll(filepath.Dir(dsn), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}

	db, err := sqlOpen(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	if driver == "sqlite" {
		// SQLite 只支持单写者。
		db.SetMaxOpenConns(1)
	}
	if _, err := db.ExecContext(ctx, d.createTable); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create state table: %w", err)
	}

	s := &SQLStore{
		InMemoryStore: NewInMemoryStore(firstID, seed),
		db:            db,
		dialect:       d,
	}
	loaded, err := s.load(ctx)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if !loaded {
		if err := s.persist(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return s, nil
}

// Close 关闭数据库连接。
func (s *SQLStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLStore) Create(ctx context.Context, t model.Transaction) (model.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	before := s.snapshot()
	created, err := s.InMemoryStore.Create(ctx, t)
	if err != nil {
		return model.Transaction{}, err
	}
	if err := s.commit(ctx, before); err != nil {
		return model.Transaction{}, err
	}
	return created, nil
}

func (s *SQLStore) Update(ctx context.Context, t model.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	before := s.snapshot()
	if err := s.InMemoryStore.Update(ctx, t); err != nil {
		return err
	}
	return s.commit(ctx, before)
}

func (s *SQLStore) Delete(ctx context.Context, id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	before := s.snapshot()
	if err := s.InMemoryStore.Delete(ctx, id); err != nil {
		return err
	}
	return s.commit(ctx, before)
}

func (s *SQLStore) snapshot() []model.Transaction {
	items, _ := s.InMemoryStore.List(context.Background())
	return items
}

// commit 写入快照；失败时把内存集合回滚到 before，保证内存与数据库一致。
func (s *SQLStore) commit(ctx context.Context, before []model.Transaction) error {
	if err := s.persist(ctx); err != nil {
		s.InMemoryStore.Replace(before)
		return err
	}
	return nil
}

func (s *SQLStore) load(ctx context.Context) (bool, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, s.dialect.selectState, snapshotBucket).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("select state: %w", err)
	}
	var items []model.Transaction
	if err := json.Unmarshal(payload, &items); err != nil {
		return false, fmt.Errorf("decode transactions: %w", err)
	}
	s.InMemoryStore.Replace(items)
	return true, nil
}

func (s *SQLStore) persist(ctx context.Context) error {
	items, err := s.InMemoryStore.List(ctx)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("encode transactions: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, s.dialect.upsertState, snapshotBucket, payload); err != nil {
		return fmt.Errorf("persist transactions: %w", err)
	}
	return nil
}

var _ Store = (*SQLStore)(nil)
