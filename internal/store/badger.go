package store

import (
	"context"
	"encoding/json"
	"strings"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/pkg/errors"

	"github.com/betbot/spotguard/internal/domain"
	"github.com/betbot/spotguard/internal/ports"
)

// BadgerStore 基于 Badger KV 的持久订单存储。
//
// 键布局：
//
//	order/<client_order_id>         -> JSON(OrderRecord)
//	pair/<pair>/<client_order_id>   -> 空（交易对索引）
//	active/<client_order_id>        -> 空（非终态索引）
type BadgerStore struct {
	db *badger.DB
}

const (
	orderPrefix  = "order/"
	pairPrefix   = "pair/"
	activePrefix = "active/"
)

// BadgerOptions 打开参数
type BadgerOptions struct {
	Path          string
	EncryptionKey []byte // 32 字节；为空则不加密
	InMemory      bool   // 测试用
}

// OpenBadger 打开 Badger 存储
func OpenBadger(opts BadgerOptions) (*BadgerStore, error) {
	if !opts.InMemory && strings.TrimSpace(opts.Path) == "" {
		return nil, errors.New("badger store: path is required")
	}
	bopts := badger.DefaultOptions(opts.Path).
		WithLogger(nil).
		WithSyncWrites(true)
	if opts.InMemory {
		bopts = bopts.WithInMemory(true).WithDir("").WithValueDir("")
	}
	if len(opts.EncryptionKey) > 0 {
		// Badger 加密要求开启 index cache
		bopts = bopts.
			WithEncryptionKey(opts.EncryptionKey).
			WithIndexCacheSize(16 << 20)
	}
	db, err := badger.Open(bopts)
	if err != nil {
		return nil, errors.Wrap(err, "open badger")
	}
	return &BadgerStore{db: db}, nil
}

func orderKey(id string) []byte { return []byte(orderPrefix + id) }
func pairKey(pair domain.Pair, id string) []byte {
	return []byte(pairPrefix + string(pair) + "/" + id)
}
func activeKey(id string) []byte { return []byte(activePrefix + id) }

func (s *BadgerStore) Create(_ context.Context, rec *domain.OrderRecord) error {
	val, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "marshal order")
	}
	return s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(orderKey(rec.ClientOrderID))
		if err == nil {
			return ports.ErrOrderExists
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err := txn.Set(orderKey(rec.ClientOrderID), val); err != nil {
			return err
		}
		if err := txn.Set(pairKey(rec.Pair, rec.ClientOrderID), nil); err != nil {
			return err
		}
		if rec.Status.IsActive() {
			return txn.Set(activeKey(rec.ClientOrderID), nil)
		}
		return nil
	})
}

func (s *BadgerStore) Get(_ context.Context, clientOrderID string) (*domain.OrderRecord, error) {
	var rec *domain.OrderRecord
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		rec, err = getOrder(txn, clientOrderID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *BadgerStore) Update(_ context.Context, rec *domain.OrderRecord) error {
	val, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "marshal order")
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(orderKey(rec.ClientOrderID)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ports.ErrOrderNotFound
			}
			return err
		}
		if err := txn.Set(orderKey(rec.ClientOrderID), val); err != nil {
			return err
		}
		if rec.Status.IsActive() {
			return txn.Set(activeKey(rec.ClientOrderID), nil)
		}
		return txn.Delete(activeKey(rec.ClientOrderID))
	})
}

func (s *BadgerStore) ListActive(_ context.Context) ([]*domain.OrderRecord, error) {
	return s.listByIndex([]byte(activePrefix))
}

func (s *BadgerStore) ListByPair(_ context.Context, pair domain.Pair) ([]*domain.OrderRecord, error) {
	return s.listByIndex([]byte(pairPrefix + string(pair) + "/"))
}

func (s *BadgerStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// listByIndex 遍历索引前缀，键的最后一段是 client_order_id
func (s *BadgerStore) listByIndex(prefix []byte) ([]*domain.OrderRecord, error) {
	var out []*domain.OrderRecord
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := string(it.Item().Key())
			id := key[strings.LastIndex(key, "/")+1:]
			rec, err := getOrder(txn, id)
			if err != nil {
				return err
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortByCreated(out)
	return out, nil
}

func getOrder(txn *badger.Txn, id string) (*domain.OrderRecord, error) {
	item, err := txn.Get(orderKey(id))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, ports.ErrOrderNotFound
		}
		return nil, err
	}
	var rec domain.OrderRecord
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &rec)
	}); err != nil {
		return nil, errors.Wrap(err, "decode order")
	}
	return &rec, nil
}
