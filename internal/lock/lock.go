// Package lock 提供按员工串行化“冲突检查后写入”的锁，以及覆盖重算的互斥
package lock

import (
	"context"
	"sync"
)

// Unlock 释放锁，只能调用一次
type Unlock func()

// Locker 按键加锁，ctx 结束时放弃等待
type Locker interface {
	Lock(ctx context.Context, key string) (Unlock, error)
}

// StaffKey 员工锁的键
func StaffKey(staffID string) string {
	return "staff:" + staffID
}

// CoverageKey 患者单日覆盖重算的键
func CoverageKey(patientID, date string) string {
	return "coverage:" + patientID + ":" + date
}

type entry struct {
	ch   chan struct{}
	refs int
}

// KeyedMutex 进程内按键互斥
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*entry
}

// NewKeyedMutex 创建进程内锁
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*entry)}
}

var _ Locker = (*KeyedMutex)(nil)

// Lock 获取键上的锁
func (k *KeyedMutex) Lock(ctx context.Context, key string) (Unlock, error) {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &entry{ch: make(chan struct{}, 1)}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-e.ch
				k.release(key, e)
			})
		}, nil
	case <-ctx.Done():
		k.release(key, e)
		return nil, ctx.Err()
	}
}

func (k *KeyedMutex) release(key string, e *entry) {
	k.mu.Lock()
	defer k.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(k.locks, key)
	}
}
