package ring

// Queue 是容量为 2 的幂的环形 FIFO 队列，写满时容量翻倍。
// 为简化，本实现以调用方控制并发。
type Queue[T any] struct {
	buf      []T
	mask     int
	readPos  int
	writePos int
}

// New 返回容量为 2 的幂次的队列。若 capacity 非 2 的幂则向上取整。
func New[T any](capacity int) *Queue[T] {
	capPow2 := 1
	for capPow2 < capacity {
		capPow2 <<= 1
	}
	return &Queue[T]{buf: make([]T, capPow2), mask: capPow2 - 1}
}

func (q *Queue[T]) Cap() int { return len(q.buf) }

func (q *Queue[T]) Len() int { return q.writePos - q.readPos }

// Push 追加到队尾
func (q *Queue[T]) Push(v T) {
	if q.Len() == len(q.buf) {
		q.grow()
	}
	q.buf[q.writePos&q.mask] = v
	q.writePos++
}

// Pop 取出队首元素
func (q *Queue[T]) Pop() (T, bool) {
	var zero T
	if q.Len() == 0 {
		return zero, false
	}
	i := q.readPos & q.mask
	v := q.buf[i]
	q.buf[i] = zero // 释放引用
	q.readPos++
	if q.readPos == q.writePos {
		q.readPos, q.writePos = 0, 0
	}
	return v, true
}

// grow 容量翻倍，按 FIFO 顺序重排到新缓冲开头
func (q *Queue[T]) grow() {
	n := q.Len()
	buf := make([]T, len(q.buf)*2)
	start := q.readPos & q.mask
	l := copy(buf, q.buf[start:])
	copy(buf[l:n], q.buf[:start])
	q.buf = buf
	q.mask = len(buf) - 1
	q.readPos = 0
	q.writePos = n
}
