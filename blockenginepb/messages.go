package blockenginepb

import (
	"github.com/golang/protobuf/proto"
)

// MempoolPacket is a pending transaction the node forwards to the block
// engine. The payload is opaque to this package.
type MempoolPacket struct {
	Hash         []byte `protobuf:"bytes,1,opt,name=hash,proto3" json:"hash,omitempty"`
	Data         []byte `protobuf:"bytes,2,opt,name=data,proto3" json:"data,omitempty"`
	ReceivedAtMs int64  `protobuf:"varint,3,opt,name=received_at_ms,json=receivedAtMs,proto3" json:"received_at_ms,omitempty"`
}

func (m *MempoolPacket) Reset()         { *m = MempoolPacket{} }
func (m *MempoolPacket) String() string { return proto.CompactTextString(m) }
func (*MempoolPacket) ProtoMessage()    {}

func (m *MempoolPacket) GetHash() []byte {
	if m != nil {
		return m.Hash
	}
	return nil
}

func (m *MempoolPacket) GetData() []byte {
	if m != nil {
		return m.Data
	}
	return nil
}

func (m *MempoolPacket) GetReceivedAtMs() int64 {
	if m != nil {
		return m.ReceivedAtMs
	}
	return 0
}

// Bundle is a group of messages the block engine wants included together.
type Bundle struct {
	Uuid     string   `protobuf:"bytes,1,opt,name=uuid,proto3" json:"uuid,omitempty"`
	Messages [][]byte `protobuf:"bytes,2,rep,name=messages,proto3" json:"messages,omitempty"`
}

func (m *Bundle) Reset()         { *m = Bundle{} }
func (m *Bundle) String() string { return proto.CompactTextString(m) }
func (*Bundle) ProtoMessage()    {}

func (m *Bundle) GetUuid() string {
	if m != nil {
		return m.Uuid
	}
	return ""
}

func (m *Bundle) GetMessages() [][]byte {
	if m != nil {
		return m.Messages
	}
	return nil
}

// SubscribeBundlesRequest opens a bundle subscription. It carries no fields.
type SubscribeBundlesRequest struct{}

func (m *SubscribeBundlesRequest) Reset()         { *m = SubscribeBundlesRequest{} }
func (m *SubscribeBundlesRequest) String() string { return proto.CompactTextString(m) }
func (*SubscribeBundlesRequest) ProtoMessage()    {}

// StreamMempoolResponse is the acknowledgment sent once the block engine has
// consumed a mempool stream.
type StreamMempoolResponse struct{}

func (m *StreamMempoolResponse) Reset()         { *m = StreamMempoolResponse{} }
func (m *StreamMempoolResponse) String() string { return proto.CompactTextString(m) }
func (*StreamMempoolResponse) ProtoMessage()    {}
