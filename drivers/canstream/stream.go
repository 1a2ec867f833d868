package canstream

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"go.einride.tech/can"
	"go.einride.tech/can/pkg/dbc"
)

const recordSize = 13

// Frame is a CAN frame together with the gateway channel it arrived on.
type Frame struct {
	can.Frame
	Channel uint8
}

// Stream is a live connection to a CAN gateway.
type Stream struct {
	mu          sync.Mutex
	conn        net.Conn
	buffer      []byte
	messages    messageIndex
	readTimeout time.Duration
}

func newStream(conn net.Conn, messages messageIndex, readTimeout time.Duration) *Stream {
	return &Stream{conn: conn, messages: messages, readTimeout: readTimeout}
}

// ReadFrame blocks until the next complete frame record arrives.
func (s *Stream) ReadFrame() (Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	chunk := make([]byte, 512)
	for {
		if frm, n, err := decodeFrame(s.buffer); err != nil {
			s.buffer = s.buffer[:0]
			return Frame{}, err
		} else if n > 0 {
			s.buffer = s.buffer[n:]
			return frm, nil
		}
		if s.readTimeout > 0 {
			if err := s.conn.SetReadDeadline(time.Now().Add(s.readTimeout)); err != nil {
				return Frame{}, err
			}
		}
		n, err := s.conn.Read(chunk)
		if n > 0 {
			s.buffer = append(s.buffer, chunk[:n]...)
			continue
		}
		if err == nil {
			err = io.ErrNoProgress
		}
		return Frame{}, err
	}
}

// Message returns the DBC message definition for frm.
func (s *Stream) Message(frm Frame) (*dbc.MessageDef, bool) {
	msg, ok := s.messages.byID[frameKey{id: frm.ID, extended: frm.IsExtended}]
	return msg, ok
}

// DecodeSignal returns the physical value of the named signal in frm.
func (s *Stream) DecodeSignal(frm Frame, name string) (float64, error) {
	msg, ok := s.Message(frm)
	if !ok {
		return 0, fmt.Errorf("canstream: no message definition for frame 0x%X", frm.ID)
	}
	signal, err := findSignal(msg, name)
	if err != nil {
		return 0, err
	}
	raw, signed, err := extractSignalBits(signal, frm.Data[:])
	if err != nil {
		return 0, err
	}
	base := float64(raw)
	if signal.IsSigned {
		base = float64(signed)
	}
	return base*signal.Factor + signal.Offset, nil
}

// Close closes the gateway connection.
func (s *Stream) Close() error {
	if s == nil || s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

// decodeFrame parses one record: a control byte (bit 7 extended, bit 6
// remote, bit 5 channel, low nibble DLC), a big-endian id and 8 data bytes.
func decodeFrame(buf []byte) (Frame, int, error) {
	if len(buf) < recordSize {
		return Frame{}, 0, nil
	}
	ctrl := buf[0]
	dlc := ctrl & 0x0F
	if dlc > 8 {
		return Frame{}, 0, fmt.Errorf("canstream: invalid dlc %d", dlc)
	}
	extended := ctrl&0x80 != 0
	id := binary.BigEndian.Uint32(buf[1:5])
	if extended {
		id &= 0x1FFFFFFF
	} else {
		id &= 0x7FF
	}
	frm := Frame{
		Frame: can.Frame{
			ID:         id,
			Length:     dlc,
			IsExtended: extended,
			IsRemote:   ctrl&0x40 != 0,
		},
		Channel: (ctrl >> 5) & 0x01,
	}
	copy(frm.Data[:], buf[5:recordSize])
	return frm, recordSize, nil
}

type frameKey struct {
	id       uint32
	extended bool
}

type messageIndex struct {
	byID map[frameKey]*dbc.MessageDef
}

func indexMessages(defs []dbc.Def) messageIndex {
	idx := messageIndex{byID: make(map[frameKey]*dbc.MessageDef)}
	for _, def := range defs {
		msg, ok := def.(*dbc.MessageDef)
		if !ok {
			continue
		}
		copyDef := *msg
		idx.byID[frameKey{id: msg.MessageID.ToCAN(), extended: msg.MessageID.IsExtended()}] = &copyDef
	}
	return idx
}

func findSignal(msg *dbc.MessageDef, name string) (*dbc.SignalDef, error) {
	for i := range msg.Signals {
		if strings.EqualFold(string(msg.Signals[i].Name), name) {
			signal := msg.Signals[i]
			return &signal, nil
		}
	}
	return nil, fmt.Errorf("canstream: message %s has no signal %s", msg.Name, name)
}

func extractSignalBits(signal *dbc.SignalDef, data []byte) (uint64, int64, error) {
	if signal.Size == 0 || signal.Size > 64 {
		return 0, 0, fmt.Errorf("canstream: signal %s has unsupported size %d", signal.Name, signal.Size)
	}
	if len(data) < 8 {
		return 0, 0, errors.New("canstream: frame data shorter than 8 bytes")
	}
	var raw uint64
	if signal.IsBigEndian {
		raw = readMotorolaBits(signal.StartBit, signal.Size, data)
	} else {
		raw = readIntelBits(signal.StartBit, signal.Size, data)
	}
	signed := int64(raw)
	if signal.IsSigned {
		signed = signExtend(raw, signal.Size)
	}
	return raw, signed, nil
}

func readIntelBits(start, size uint64, data []byte) uint64 {
	var value uint64
	for i := uint64(0); i < size; i++ {
		bitIndex := start + i
		byteIndex := bitIndex / 8
		if byteIndex >= uint64(len(data)) {
			break
		}
		if data[byteIndex]&(1<<(bitIndex%8)) != 0 {
			value |= 1 << i
		}
	}
	return value
}

func readMotorolaBits(start, size uint64, data []byte) uint64 {
	var value uint64
	bitIndex := start
	for i := uint64(0); i < size; i++ {
		byteIndex := bitIndex / 8
		if byteIndex >= uint64(len(data)) {
			break
		}
		if data[byteIndex]&(1<<(bitIndex%8)) != 0 {
			value |= 1 << (size - 1 - i)
		}
		if bitIndex%8 == 0 {
			bitIndex = (bitIndex/8+1)*8 + 7
		} else {
			bitIndex--
		}
	}
	return value
}

func signExtend(value, size uint64) int64 {
	signBit := uint64(1) << (size - 1)
	if value&signBit == 0 {
		return int64(value)
	}
	return int64(value | ^uint64(0)<<size)
}
