package execution

import (
	"context"
	"hash/fnv"
	"sync"
)

// KeyedLocker 按 key 提供互斥（交易对串行下单、单条订单记录独占修改）。
//
// 分片 map + 每个 key 一个容量为 1 的 channel：
//   - 获取锁可以被 ctx 取消
//   - 引用计数归零后删除条目，key 数量不会无限增长
type KeyedLocker struct {
	shards []keyedShard
}

type keyedShard struct {
	mu sync.Mutex
	m  map[string]*keyedEntry
}

type keyedEntry struct {
	ch   chan struct{}
	refs int
}

// NewKeyedLocker 创建按 key 加锁器
func NewKeyedLocker(shardCount int) *KeyedLocker {
	if shardCount <= 0 {
		shardCount = 64
	}
	shards := make([]keyedShard, shardCount)
	for i := range shards {
		shards[i].m = make(map[string]*keyedEntry)
	}
	return &KeyedLocker{shards: shards}
}

// Lock 阻塞直到获得 key 的独占权或 ctx 结束。成功时返回释放函数（只能调用一次）。
func (l *KeyedLocker) Lock(ctx context.Context, key string) (func(), error) {
	sh := l.shard(key)

	sh.mu.Lock()
	e, ok := sh.m[key]
	if !ok {
		e = &keyedEntry{ch: make(chan struct{}, 1)}
		sh.m[key] = e
	}
	e.refs++
	sh.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		l.deref(sh, key, e)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.ch
			l.deref(sh, key, e)
		})
	}, nil
}

// TryLock 非阻塞获取；已被占用时返回 false
func (l *KeyedLocker) TryLock(key string) (func(), bool) {
	sh := l.shard(key)

	sh.mu.Lock()
	e, ok := sh.m[key]
	if !ok {
		e = &keyedEntry{ch: make(chan struct{}, 1)}
		sh.m[key] = e
	}
	e.refs++
	sh.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
	default:
		l.deref(sh, key, e)
		return nil, false
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.ch
			l.deref(sh, key, e)
		})
	}, true
}

func (l *KeyedLocker) deref(sh *keyedShard, key string, e *keyedEntry) {
	sh.mu.Lock()
	e.refs--
	if e.refs == 0 && sh.m[key] == e {
		delete(sh.m, key)
	}
	sh.mu.Unlock()
}

func (l *KeyedLocker) shard(key string) *keyedShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	idx := int(h.Sum32() % uint32(len(l.shards)))
	return &l.shards[idx]
}
