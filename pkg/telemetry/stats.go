// Package telemetry publishes device counters over MQTT.
package telemetry

import (
	"github.com/golang/protobuf/proto"
)

// Stats is a snapshot of the device counters.
type Stats struct {
	DeviceID       string `protobuf:"bytes,1,opt,name=device_id,proto3" json:"device_id,omitempty"`
	Ticks          uint32 `protobuf:"varint,2,opt,name=ticks,proto3" json:"ticks,omitempty"`
	RxOverflows    uint64 `protobuf:"varint,3,opt,name=rx_overflows,proto3" json:"rx_overflows,omitempty"`
	TxOverflows    uint64 `protobuf:"varint,4,opt,name=tx_overflows,proto3" json:"tx_overflows,omitempty"`
	FramesReceived uint64 `protobuf:"varint,5,opt,name=frames_received,proto3" json:"frames_received,omitempty"`
	FrameErrors    uint64 `protobuf:"varint,6,opt,name=frame_errors,proto3" json:"frame_errors,omitempty"`
	FrameOverflows uint64 `protobuf:"varint,7,opt,name=frame_overflows,proto3" json:"frame_overflows,omitempty"`
	TimerOverruns  uint64 `protobuf:"varint,8,opt,name=timer_overruns,proto3" json:"timer_overruns,omitempty"`
	LinkIdle       bool   `protobuf:"varint,9,opt,name=link_idle,proto3" json:"link_idle,omitempty"`
}

// ProtoMessage implements proto.Message.
func (m *Stats) ProtoMessage() {}

// Reset implements proto.Message.
func (m *Stats) Reset() { *m = Stats{} }

// String implements proto.Message.
func (m *Stats) String() string { return proto.CompactTextString(m) }

// Encode marshals the snapshot.
func (m *Stats) Encode() ([]byte, error) {
	return proto.Marshal(m)
}

// DecodeStats unmarshals a snapshot published by Encode.
func DecodeStats(payload []byte) (*Stats, error) {
	m := &Stats{}
	if err := proto.Unmarshal(payload, m); err != nil {
		return nil, err
	}
	return m, nil
}
