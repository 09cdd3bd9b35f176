package evcore

import (
	"sync"
	"sync/atomic"
)

// slot 为连接表中的一项。protocol 只能在持有 mu 时读写。
type slot struct {
	mu       sync.Mutex
	protocol Protocol

	active  atomic.Int64  // 最近活跃的 tick（秒）
	timeout atomic.Uint32 // 秒，0 表示使用默认值
}

// table 是固定容量的连接表，容量在创建后不再变化
type table struct {
	slots []slot
}

func newTable(capacity int) *table {
	return &table{slots: make([]slot, capacity)}
}

func (t *table) capacity() int { return len(t.slots) }

// get 越界时返回 nil
func (t *table) get(i int) *slot {
	if i < 0 || i >= len(t.slots) {
		return nil
	}
	return &t.slots[i]
}

// reset 替换协议指针并刷新 active，timeout 清零；锁对象保留。返回旧协议。
func (t *table) reset(i int, p Protocol, tick int64) Protocol {
	sl := &t.slots[i]
	sl.mu.Lock()
	old := sl.protocol
	sl.protocol = p
	sl.active.Store(tick)
	sl.timeout.Store(0)
	sl.mu.Unlock()
	return old
}

// protocol 在锁内读取协议指针
func (t *table) protocol(i int) Protocol {
	sl := t.get(i)
	if sl == nil {
		return nil
	}
	sl.mu.Lock()
	p := sl.protocol
	sl.mu.Unlock()
	return p
}

func (t *table) bound(i int) bool { return t.protocol(i) != nil }

// next 返回 >= i 的第一个已绑定下标，没有时返回 capacity
func (t *table) next(i int) int {
	if i < 0 {
		i = 0
	}
	for ; i < len(t.slots); i++ {
		if t.bound(i) {
			return i
		}
	}
	return len(t.slots)
}
