package protocol

import (
	"encoding/binary"
	"errors"
)

// 帧头（大端）：
//
//	短头 2B: bit15 Compressed | bit14 Batched | bit13 Ext=0 | bit12..0 长度
//	长头 4B: bit31 Compressed | bit30 Batched | bit29 Ext=1 | bit28..0 长度
//
// Batched 隐含 Compressed。非批量帧在头之后有 2 字节 api，长度不含 api。
const (
	flagCompressed = 1 << 15
	flagBatched    = 1 << 14
	flagExt        = 1 << 13

	shortMaxLen = 1<<13 - 1
	// MaxLength 为帧体长度上限
	MaxLength = 1<<29 - 1
)

var (
	// ErrIncomplete 数据不足一帧，需要继续读取
	ErrIncomplete = errors.New("protocol: incomplete frame")
	// ErrTooLarge 帧体超过长度上限
	ErrTooLarge = errors.New("protocol: frame too large")
)

type Header struct {
	Length     int
	Compressed bool
	Batched    bool
}

// Size 返回编码后的头长度
func (h Header) Size() int {
	if h.Length <= shortMaxLen {
		return 2
	}
	return 4
}

// AppendHeader 追加编码后的帧头
func AppendHeader(dst []byte, h Header) ([]byte, error) {
	if h.Length < 0 || h.Length > MaxLength {
		return dst, ErrTooLarge
	}
	var flags uint16
	if h.Compressed || h.Batched {
		flags |= flagCompressed
	}
	if h.Batched {
		flags |= flagBatched
	}
	if h.Length <= shortMaxLen {
		return binary.BigEndian.AppendUint16(dst, flags|uint16(h.Length)), nil
	}
	v := uint32(flags|flagExt)<<16 | uint32(h.Length)
	return binary.BigEndian.AppendUint32(dst, v), nil
}

// ReadHeader 解析帧头，返回头和头长度
func ReadHeader(b []byte) (Header, int, error) {
	if len(b) < 2 {
		return Header{}, 0, ErrIncomplete
	}
	v := binary.BigEndian.Uint16(b)
	h := Header{
		Compressed: v&flagCompressed != 0,
		Batched:    v&flagBatched != 0,
	}
	if v&flagExt == 0 {
		h.Length = int(v & shortMaxLen)
		return h, 2, nil
	}
	if len(b) < 4 {
		return Header{}, 0, ErrIncomplete
	}
	h.Length = int(binary.BigEndian.Uint32(b) & MaxLength)
	return h, 4, nil
}
