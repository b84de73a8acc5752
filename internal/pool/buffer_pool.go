package pool

import (
	"bytes"
	"sync"
)

// BufferPool 编码用缓冲区对象池
type BufferPool struct {
	pool   sync.Pool
	maxCap int
}

// NewBufferPool 创建缓冲区池；容量超过 maxCap 的缓冲区不回收，避免个别大包长期占用内存
func NewBufferPool(initialCap, maxCap int) *BufferPool {
	return &BufferPool{
		pool: sync.Pool{
			New: func() any {
				return bytes.NewBuffer(make([]byte, 0, initialCap))
			},
		},
		maxCap: maxCap,
	}
}

// Get 获取已清空的缓冲区
func (p *BufferPool) Get() *bytes.Buffer {
	buf := p.pool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

// Put 归还缓冲区，调用后不能再使用 buf 及其 Bytes()
func (p *BufferPool) Put(buf *bytes.Buffer) {
	if buf == nil || buf.Cap() > p.maxCap {
		return
	}
	p.pool.Put(buf)
}
