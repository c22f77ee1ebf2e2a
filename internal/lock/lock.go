// Package lock сериализует мутации одного расписания или одиночного занятия
package lock

import (
	"context"
	"sync"
)

// Locker берёт эксклюзивную блокировку по ключу. unlock обязателен к вызову.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// ScheduleKey ключ блокировки расписания
func ScheduleKey(scheduleID string) string {
	return "schedule:" + scheduleID
}

// InstanceKey ключ блокировки занятия
func InstanceKey(instanceID string) string {
	return "instance:" + instanceID
}

type keyedEntry struct {
	ch   chan struct{}
	refs int
}

// KeyedMutex блокировки внутри процесса. Записи удаляются, когда ключ никто не держит.
type KeyedMutex struct {
	mu      sync.Mutex
	entries map[string]*keyedEntry
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{entries: make(map[string]*keyedEntry)}
}

func (k *KeyedMutex) Lock(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()
	entry, ok := k.entries[key]
	if !ok {
		entry = &keyedEntry{ch: make(chan struct{}, 1)}
		k.entries[key] = entry
	}
	entry.refs++
	k.mu.Unlock()

	select {
	case entry.ch <- struct{}{}:
	case <-ctx.Done():
		k.release(key, entry, false)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() { k.release(key, entry, true) })
	}, nil
}

func (k *KeyedMutex) release(key string, entry *keyedEntry, held bool) {
	if held {
		<-entry.ch
	}

	k.mu.Lock()
	entry.refs--
	if entry.refs == 0 {
		delete(k.entries, key)
	}
	k.mu.Unlock()
}
