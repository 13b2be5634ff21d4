package storage

import (
	"encoding"
	"encoding/binary"

	"github.com/vmihailenco/msgpack/v5"
)

type Storeable interface {
	Key() []byte
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

type DBMessage struct {
	ID        int64  `msgpack:"id"`
	Timestamp int64  `msgpack:"timestamp"`
	Room      string `msgpack:"room"`
	User      string `msgpack:"user"`
	Body      string `msgpack:"body"`
}

func (m *DBMessage) Key() []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(m.ID))
	return key
}

func (m *DBMessage) MarshalBinary() (data []byte, err error) {
	type alias DBMessage
	return msgpack.Marshal((*alias)(m))
}

func (m *DBMessage) UnmarshalBinary(data []byte) error {
	type alias DBMessage
	return msgpack.Unmarshal(data, (*alias)(m))
}
