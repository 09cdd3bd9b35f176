package protocol

// echo/chat 示例使用的 api
const (
	APIWelcome  uint16 = 1 // 服务端 -> 客户端，连接建立，载荷为 session id
	APIEcho     uint16 = 2 // 原样返回
	APIChat     uint16 = 3 // 转发给其它所有连接
	APIChatDone uint16 = 4 // 服务端 -> 发送方，转发完成，载荷为接收者数量
	APIStats    uint16 = 5 // 返回当前连接数
	APIPing     uint16 = 6 // 服务端 -> 客户端，空闲探测；客户端任意回包即可
	APIShutdown uint16 = 7 // 服务端 -> 客户端，服务端正在关闭
)
