package random

import (
	"crypto/rand"
	"encoding/binary"
	"io"

	"lukechampine.com/blake3"
)

var System = rand.Reader

// Blake3KeyedHash returns an XOF stream keyed from the system source. It is
// used where many random bytes are drawn, such as key and certificate
// generation.
func Blake3KeyedHash() Source {
	key := make([]byte, 32)
	if _, err := io.ReadFull(System, key); err != nil {
		panic(err)
	}
	h := blake3.New(32, key)
	return Source{h.XOF()}
}

const (
	rngMax  = 1 << 63
	rngMask = rngMax - 1
)

// Source implements math/rand.Source64 on top of a byte stream.
type Source struct {
	io.Reader
}

func (s Source) Int63() int64 {
	return int64(s.Uint64() & rngMask)
}

func (s Source) Uint64() uint64 {
	var num [8]byte
	if _, err := io.ReadFull(s, num[:]); err != nil {
		panic(err)
	}
	return binary.BigEndian.Uint64(num[:])
}

func (s Source) Seed(int64) {
}
