package codec

import (
	"bytes"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Msgpack returns a binding that stores T as MessagePack. The layout is not
// order-preserving, so use it for blobs rather than indexed properties.
func Msgpack[T any]() Binding[T] {
	return msgpackBinding[T]{}
}

type msgpackBinding[T any] struct{}

func (msgpackBinding[T]) Append(buf []byte, v T) []byte {
	bb := Builder{buf}
	enc := msgpack.GetEncoder()
	enc.ResetDict(&bb, nil)
	enc.SetSortMapKeys(true)
	err := enc.Encode(v)
	msgpack.PutEncoder(enc)
	if err != nil {
		panic(fmt.Errorf("failed to encode %T using MsgPack: %w", v, err))
	}
	return bb.Buf
}

func (msgpackBinding[T]) Decode(data []byte) (T, error) {
	var v T
	var r bytes.Reader
	r.Reset(data)
	dec := msgpack.GetDecoder()
	dec.ResetDict(&r, nil)
	err := dec.Decode(&v)
	msgpack.PutDecoder(dec)
	if err != nil {
		return v, dataErrf(data, 0, err, "failed to decode msgpack into %T", v)
	}
	return v, nil
}
