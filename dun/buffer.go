package dun

import (
	"sync"

	"dunrelay/proto"
)

// pool 上行读缓冲区，单次读取不超过 MaxMsgLen
var pool = sync.Pool{
	New: func() interface{} {
		b := make([]byte, proto.MaxMsgLen)
		pl := proto.Payload{
			Type: proto.MsgDunRequest,
			Data: b,
		}
		return &pl
	},
}

func getPayloadBuffer() *proto.Payload {
	pl := pool.Get().(*proto.Payload)
	return pl
}

func putPayloadBuffer(pl *proto.Payload) {
	if cap(pl.Data) != proto.MaxMsgLen {
		return
	}

	pl.Type = proto.MsgDunRequest
	pl.Data = pl.Data[:proto.MaxMsgLen]
	pool.Put(pl)
}
