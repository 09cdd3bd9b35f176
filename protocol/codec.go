// Package protocol 实现 echo/chat 示例使用的帧格式：
// 可变长度头、uint16 api、可选的 zstd 压缩与批量帧。
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrMalformed 批量帧内容无法解析
var ErrMalformed = errors.New("protocol: malformed batch")

type Message struct {
	API     uint16
	Payload []byte
}

// Encoder 编码帧。Threshold > 0 时，不小于该长度的载荷被压缩。
type Encoder struct {
	Threshold int
}

// Append 把单条消息编码为一帧并追加到 dst
func (e Encoder) Append(dst []byte, api uint16, payload []byte) ([]byte, error) {
	body := payload
	compressed := e.Threshold > 0 && len(payload) >= e.Threshold
	if compressed {
		var err error
		if body, err = compress(nil, payload); err != nil {
			return dst, err
		}
	}
	dst, err := AppendHeader(dst, Header{Length: len(body), Compressed: compressed})
	if err != nil {
		return dst, err
	}
	dst = binary.BigEndian.AppendUint16(dst, api)
	return append(dst, body...), nil
}

// AppendBatch 把多条消息编码为一个批量帧（总是压缩，没有 api 字段）。
// 压缩前的内容为：uvarint 条数，之后每条为 api(2B) + uvarint 长度 + 载荷。
func (e Encoder) AppendBatch(dst []byte, msgs []Message) ([]byte, error) {
	pre := binary.AppendUvarint(nil, uint64(len(msgs)))
	for _, m := range msgs {
		pre = binary.BigEndian.AppendUint16(pre, m.API)
		pre = binary.AppendUvarint(pre, uint64(len(m.Payload)))
		pre = append(pre, m.Payload...)
	}
	body, err := compress(nil, pre)
	if err != nil {
		return dst, err
	}
	dst, err = AppendHeader(dst, Header{Length: len(body), Batched: true})
	if err != nil {
		return dst, err
	}
	return append(dst, body...), nil
}

// Parser 累积输入并逐条返回消息，批量帧被展开。
// 返回的 Payload 在下一次 Feed 之前有效。
type Parser struct {
	// MaxFrame 限制单帧体长度，0 表示 MaxLength
	MaxFrame int

	buf     []byte
	off     int
	pending []Message
}

// Feed 追加读到的数据
func (p *Parser) Feed(b []byte) {
	if p.off > 0 && p.off == len(p.buf) {
		p.buf = p.buf[:0]
		p.off = 0
	} else if p.off > len(p.buf)/2 {
		n := copy(p.buf, p.buf[p.off:])
		p.buf = p.buf[:n]
		p.off = 0
	}
	p.buf = append(p.buf, b...)
}

// Buffered 返回尚未解析的字节数
func (p *Parser) Buffered() int { return len(p.buf) - p.off }

// Next 返回下一条消息。数据不足时返回 ErrIncomplete；其它错误表示流已损坏。
func (p *Parser) Next() (Message, error) {
	if len(p.pending) > 0 {
		m := p.pending[0]
		p.pending = p.pending[1:]
		return m, nil
	}
	b := p.buf[p.off:]
	h, n, err := ReadHeader(b)
	if err != nil {
		return Message{}, err
	}
	limit := p.MaxFrame
	if limit <= 0 {
		limit = MaxLength
	}
	if h.Length > limit {
		return Message{}, fmt.Errorf("%w: %d > %d", ErrTooLarge, h.Length, limit)
	}
	if h.Batched {
		if len(b) < n+h.Length {
			return Message{}, ErrIncomplete
		}
		body := b[n : n+h.Length]
		p.off += n + h.Length
		msgs, err := unbatch(body)
		if err != nil {
			return Message{}, err
		}
		if len(msgs) == 0 {
			return p.Next()
		}
		p.pending = msgs[1:]
		return msgs[0], nil
	}
	if len(b) < n+2+h.Length {
		return Message{}, ErrIncomplete
	}
	m := Message{
		API:     binary.BigEndian.Uint16(b[n:]),
		Payload: b[n+2 : n+2+h.Length],
	}
	p.off += n + 2 + h.Length
	if h.Compressed {
		if m.Payload, err = decompress(m.Payload); err != nil {
			return Message{}, err
		}
	}
	return m, nil
}

func unbatch(body []byte) ([]Message, error) {
	pre, err := decompress(body)
	if err != nil {
		return nil, err
	}
	count, n := binary.Uvarint(pre)
	if n <= 0 || count > uint64(len(pre)) {
		return nil, ErrMalformed
	}
	pre = pre[n:]
	msgs := make([]Message, 0, count)
	for i := uint64(0); i < count; i++ {
		if len(pre) < 2 {
			return nil, ErrMalformed
		}
		api := binary.BigEndian.Uint16(pre)
		size, n := binary.Uvarint(pre[2:])
		if n <= 0 || size > uint64(len(pre)-2-n) {
			return nil, ErrMalformed
		}
		start := 2 + n
		msgs = append(msgs, Message{API: api, Payload: pre[start : start+int(size)]})
		pre = pre[start+int(size):]
	}
	return msgs, nil
}
