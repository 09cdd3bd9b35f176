// Package evcore 是事件驱动网络服务的连接生命周期与任务调度核心。
//
// 每条连接由逻辑句柄 Handle 标识，并绑定一个 Protocol。Server 维护固定容量的连接表，
// 每个协议带有 STATE/WRITE/TASK 三类锁；所有回调都以延迟任务的形式在调度器的 worker 上执行，
// 获取锁只用 try-lock，失败时重新入队而不是阻塞等待。
//
// 外部协作者：
//   - Reactor：轮询与 socket 层（poller 包提供 Linux epoll 实现）
//   - Scheduler：延迟任务队列与 worker 池（sched 包）
//
// 基本用法：
//
//	r, _ := poller.New(poller.Config{})
//	pool := sched.New(sched.WithLogger(logger))
//	srv, _ := evcore.New(evcore.DefaultConfig(), r, pool)
//	srv.Listen(evcore.ListenConfig{Address: ":8080", OnOpen: newEcho})
//	srv.Run(ctx)
package evcore
