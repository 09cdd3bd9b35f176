package protocol

import (
	"sync"

	"github.com/klauspost/compress/zstd"
)

// EncodeAll/DecodeAll 可以并发调用，整个进程共享一组编解码器
var (
	sharedEncoder = sync.OnceValues(func() (*zstd.Encoder, error) {
		return zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	})
	sharedDecoder = sync.OnceValues(func() (*zstd.Decoder, error) {
		return zstd.NewReader(nil, zstd.WithDecoderMaxMemory(MaxLength), zstd.WithDecoderConcurrency(0))
	})
)

func compress(dst, src []byte) ([]byte, error) {
	enc, err := sharedEncoder()
	if err != nil {
		return dst, err
	}
	return enc.EncodeAll(src, dst), nil
}

func decompress(src []byte) ([]byte, error) {
	dec, err := sharedDecoder()
	if err != nil {
		return nil, err
	}
	return dec.DecodeAll(src, nil)
}
