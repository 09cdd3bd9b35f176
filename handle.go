package evcore

import "fmt"

// Handle 是连接的逻辑句柄，与可复用的 OS fd 解耦。
// 句柄与连接表下标之间的映射由 Reactor 负责。
type Handle int64

// InvalidHandle 表示无效句柄
const InvalidHandle Handle = -1

func (h Handle) String() string { return fmt.Sprintf("handle(%d)", int64(h)) }

// LockCategory 协议锁的类别。零值为 LockTask。
type LockCategory uint8

const (
	// LockTask 保护 OnData 以及用户任务
	LockTask LockCategory = iota
	// LockWrite 保护可能写连接的回调：OnReady、OnShutdown、Ping
	LockWrite
	// LockState 仅用于检查协议状态（超时扫描）
	LockState

	lockCategories
)

func (c LockCategory) String() string {
	switch c {
	case LockTask:
		return "task"
	case LockWrite:
		return "write"
	case LockState:
		return "state"
	default:
		return fmt.Sprintf("category(%d)", uint8(c))
	}
}

func (c LockCategory) valid() bool { return c < lockCategories }

// Service 是协议族的身份标记，按指针比较。
type Service struct {
	name string
}

// NewService 创建新的协议族标记。相同名字的两次调用得到不同的身份。
func NewService(name string) *Service { return &Service{name: name} }

func (s *Service) String() string {
	if s == nil {
		return "<nil>"
	}
	return s.name
}

var (
	listenerService  = NewService("listener (internal)")
	connectorService = NewService("connector (internal)")
	timerService     = NewService("timer (internal)")
)

// internal 报告 Count 应当忽略的内部协议
func (s *Service) internal() bool { return s == listenerService || s == timerService }
