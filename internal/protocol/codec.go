package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"

	pk "github.com/Tnze/go-mc/net/packet"
	"github.com/google/uuid"
)

// 编解码共享常量
const (
	MaxVarIntLen   = 5      // 32 位 VarInt 最多 5 字节
	MaxStringLen   = 32767  // 协议允许的最大字符数
	MaxChatLen     = 262144 // 聊天组件 JSON 最大字符数
	maxUTF8PerRune = 4
)

var (
	errNegativeLength = errors.New("negative length")
	errInvalidUTF8    = errors.New("invalid utf-8")
	errTrailingBytes  = errors.New("trailing bytes after last field")
	errVarIntTooLong  = errors.New("varint longer than 5 bytes")
)

// Reader 有界的字段读取器，只读取单个包体
type Reader struct {
	r *bytes.Reader
}

// NewReader 创建读取器
func NewReader(payload []byte) *Reader {
	return &Reader{r: bytes.NewReader(payload)}
}

// Remaining 剩余未读字节数
func (r *Reader) Remaining() int {
	return r.r.Len()
}

// VarInt 读取变长整数
func (r *Reader) VarInt(field string) (int32, error) {
	v, _, err := readVarInt(r.r)
	if err != nil {
		return 0, fieldError(field, eofAsUnexpected(err))
	}
	return v, nil
}

// String 读取长度前缀的 UTF-8 文本，字符数和字节数任一超限即报错，从不截断
func (r *Reader) String(field string, maxChars, maxBytes int) (string, error) {
	n, _, err := readVarInt(r.r)
	if err != nil {
		return "", fieldError(field, eofAsUnexpected(err))
	}
	if n < 0 {
		return "", fieldError(field, errNegativeLength)
	}
	if int(n) > maxBytes {
		return "", fieldError(field, fmt.Errorf("%d bytes exceeds limit %d", n, maxBytes))
	}
	if int(n) > r.r.Len() {
		return "", fieldError(field, io.ErrUnexpectedEOF)
	}

	buf := make([]byte, n)
	if _, err := io.ReadFull(r.r, buf); err != nil {
		return "", fieldError(field, eofAsUnexpected(err))
	}
	if !utf8.Valid(buf) {
		return "", fieldError(field, errInvalidUTF8)
	}
	if chars := utf8.RuneCount(buf); chars > maxChars {
		return "", fieldError(field, fmt.Errorf("%d chars exceeds limit %d", chars, maxChars))
	}
	return string(buf), nil
}

// UnsignedShort 读取大端 16 位无符号整数
func (r *Reader) UnsignedShort(field string) (uint16, error) {
	var v pk.UnsignedShort
	if _, err := v.ReadFrom(r.r); err != nil {
		return 0, fieldError(field, eofAsUnexpected(err))
	}
	return uint16(v), nil
}

// Long 读取大端 64 位整数
func (r *Reader) Long(field string) (int64, error) {
	var v pk.Long
	if _, err := v.ReadFrom(r.r); err != nil {
		return 0, fieldError(field, eofAsUnexpected(err))
	}
	return int64(v), nil
}

// UUID 读取 16 字节 UUID
func (r *Reader) UUID(field string) (uuid.UUID, error) {
	var v pk.UUID
	if _, err := v.ReadFrom(r.r); err != nil {
		return uuid.Nil, fieldError(field, eofAsUnexpected(err))
	}
	return uuid.UUID(v), nil
}

// Enum 读取以 VarInt 编码的枚举值，超出 [lo, hi] 即报错
func (r *Reader) Enum(field string, lo, hi int32) (int32, error) {
	v, err := r.VarInt(field)
	if err != nil {
		return 0, err
	}
	if v < lo || v > hi {
		return 0, fieldError(field, fmt.Errorf("ordinal %d out of range [%d, %d]", v, lo, hi))
	}
	return v, nil
}

// Finish 确认包体已被完整消费
func (r *Reader) Finish() error {
	if n := r.r.Len(); n > 0 {
		return fieldError("<end>", fmt.Errorf("%w: %d", errTrailingBytes, n))
	}
	return nil
}

// readVarInt 读取至多 MaxVarIntLen 字节的 VarInt，第 5 个字节仍带延续位即报错
//
// n 为已消耗的字节数；第一个字节就读到 io.EOF 时原样返回，其后的 EOF 转为 io.ErrUnexpectedEOF。
func readVarInt(r io.ByteReader) (int32, int, error) {
	var acc uint32
	n := 0
	for n < MaxVarIntLen {
		b, err := r.ReadByte()
		if err != nil {
			if n > 0 && errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return 0, n, err
		}
		acc |= uint32(b&0x7f) << (7 * n)
		n++
		if b&0x80 == 0 {
			return int32(acc), n, nil
		}
	}
	return 0, n, errVarIntTooLong
}

func eofAsUnexpected(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}

// Writer 字段写入器
type Writer struct {
	buf *bytes.Buffer
}

// NewWriter 创建写入器
func NewWriter(buf *bytes.Buffer) *Writer {
	return &Writer{buf: buf}
}

// Len 已写入的字节数
func (w *Writer) Len() int {
	return w.buf.Len()
}

// VarInt 写入变长整数
func (w *Writer) VarInt(v int32) {
	_, _ = pk.VarInt(v).WriteTo(w.buf)
}

// String 写入长度前缀文本，与读取端使用同样的上限
func (w *Writer) String(field, s string, maxChars, maxBytes int) error {
	if len(s) > maxBytes {
		return fieldError(field, fmt.Errorf("%d bytes exceeds limit %d", len(s), maxBytes))
	}
	if !utf8.ValidString(s) {
		return fieldError(field, errInvalidUTF8)
	}
	if chars := utf8.RuneCountInString(s); chars > maxChars {
		return fieldError(field, fmt.Errorf("%d chars exceeds limit %d", chars, maxChars))
	}
	_, _ = pk.String(s).WriteTo(w.buf)
	return nil
}

// UnsignedShort 写入大端 16 位无符号整数
func (w *Writer) UnsignedShort(v uint16) {
	_, _ = pk.UnsignedShort(v).WriteTo(w.buf)
}

// Long 写入大端 64 位整数
func (w *Writer) Long(v int64) {
	_, _ = pk.Long(v).WriteTo(w.buf)
}

// UUID 写入 16 字节 UUID
func (w *Writer) UUID(v uuid.UUID) {
	_, _ = pk.UUID(v).WriteTo(w.buf)
}

// Enum 写入枚举值
func (w *Writer) Enum(field string, v, lo, hi int32) error {
	if v < lo || v > hi {
		return fieldError(field, fmt.Errorf("ordinal %d out of range [%d, %d]", v, lo, hi))
	}
	w.VarInt(v)
	return nil
}

// maxBytesFor 按字符数估算 UTF-8 字节上限
func maxBytesFor(chars int) int {
	return chars * maxUTF8PerRune
}
