package protocol

import (
	"encoding/binary"
	"io"

	"github.com/ValentinKolb/hotrod/rpc/common"
)

// maxArrayLength guards against allocating huge buffers for a corrupt length prefix
const maxArrayLength = 64 << 20

// Reader is the read side of a connection
type Reader interface {
	io.Reader
	io.ByteReader
}

// Writer is the write side of a connection
type Writer interface {
	io.Writer
	io.ByteWriter
}

// Stream is what an operation needs from a connection: buffered reads and writes plus Flush
type Stream interface {
	Reader
	Writer
	Flush() error
}

// --------------------------------------------------------------------------
// Variable length integers (7 bits per byte, least significant group first)
// --------------------------------------------------------------------------

// WriteVInt writes a non-negative int32 as variable length integer
func WriteVInt(w io.ByteWriter, v int32) error {
	return WriteVLong(w, int64(uint32(v)))
}

// WriteVLong writes a non-negative int64 as variable length integer
func WriteVLong(w io.ByteWriter, v int64) error {
	u := uint64(v)
	for u >= 0x80 {
		if err := w.WriteByte(byte(u) | 0x80); err != nil {
			return err
		}
		u >>= 7
	}
	return w.WriteByte(byte(u))
}

// ReadVInt reads a variable length int32
func ReadVInt(r io.ByteReader) (int32, error) {
	v, err := readVar(r, 5)
	if err != nil {
		return 0, err
	}
	if v > 0xFFFFFFFF {
		return 0, common.NewFault(common.KindProtocol, "vint overflows 32 bits")
	}
	return int32(uint32(v)), nil
}

// ReadVLong reads a variable length int64
func ReadVLong(r io.ByteReader) (int64, error) {
	v, err := readVar(r, 10)
	if err != nil {
		return 0, err
	}
	return int64(v), nil
}

func readVar(r io.ByteReader, maxBytes int) (uint64, error) {
	var v uint64
	for i := 0; i < maxBytes; i++ {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		v |= uint64(b&0x7F) << (7 * uint(i))
		if b&0x80 == 0 {
			return v, nil
		}
	}
	return 0, common.NewFaultf(common.KindProtocol, "variable length integer longer than %d bytes", maxBytes)
}

// --------------------------------------------------------------------------
// Arrays, strings and fixed width integers
// --------------------------------------------------------------------------

// WriteArray writes a vint length followed by the bytes
func WriteArray(w Writer, b []byte) error {
	if err := WriteVInt(w, int32(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

// ReadArray reads a vint length prefixed byte array
func ReadArray(r Reader) ([]byte, error) {
	n, err := ReadVInt(r)
	if err != nil {
		return nil, err
	}
	if n < 0 || n > maxArrayLength {
		return nil, common.NewFaultf(common.KindProtocol, "invalid array length %d", n)
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}

// WriteString writes a vint length prefixed utf-8 string
func WriteString(w Writer, s string) error {
	return WriteArray(w, []byte(s))
}

// ReadString reads a vint length prefixed utf-8 string
func ReadString(r Reader) (string, error) {
	b, err := ReadArray(r)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// WriteUint64 writes a big endian uint64
func WriteUint64(w Writer, v uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

// ReadUint64 reads a big endian uint64
func ReadUint64(r Reader) (uint64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(buf[:]), nil
}

// WriteBool writes a single byte 0 or 1
func WriteBool(w io.ByteWriter, v bool) error {
	if v {
		return w.WriteByte(1)
	}
	return w.WriteByte(0)
}

// ReadBool reads a single byte and reports whether it is non zero
func ReadBool(r io.ByteReader) (bool, error) {
	b, err := r.ReadByte()
	return b != 0, err
}
