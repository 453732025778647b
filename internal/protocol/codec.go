// Package protocol implements the wire codec shared by the IP and phone
// transports (§4.1, §6.1): printable-ASCII, '*'-delimited, '#'-terminated
// frames, plus the two ACK forms.
package protocol

import (
	"strconv"
	"strings"

	"github.com/malbeclabs/alarmcore/internal/model"
)

// Fields is the decoded form of a full client->server frame:
// <client_id>*<pin>*<seq>*<mmss>*<event_id>*<sensor_id>*<extra>#
type Fields struct {
	ClientID  model.ClientID
	PIN       string
	Seq       uint32
	HasSeq    bool
	MMSS      string
	HasMMSS   bool
	EventKind model.EventKind
	SensorID  model.SensorID
	Extra     string
}

// Encode renders f as a full client->server frame.
func Encode(f Fields) []byte {
	seqStr := ""
	if f.HasSeq {
		seqStr = strconv.FormatUint(uint64(f.Seq), 10)
	}
	parts := []string{
		string(f.ClientID),
		f.PIN,
		seqStr,
		f.MMSS,
		strconv.Itoa(int(f.EventKind)),
		string(f.SensorID),
		f.Extra,
	}
	return []byte(strings.Join(parts, "*") + "#")
}

// Decode parses a full client->server frame. It rejects frames shorter
// than MinFrameLen or longer than MaxFrameLen, and any frame whose event id
// is non-numeric. A numeric id outside the closed EventKind set decodes
// successfully to model.EventUnknown, per §4.1.
func Decode(b []byte) (Fields, error) {
	if len(b) < MinFrameLen {
		return Fields{}, ErrTooShort
	}
	if len(b) > MaxFrameLen {
		return Fields{}, ErrTooLong
	}
	if b[len(b)-1] != '#' {
		return Fields{}, ErrNoTerminator
	}
	body := string(b[:len(b)-1])
	parts := strings.Split(body, "*")
	if len(parts) != 7 {
		return Fields{}, ErrFieldCount
	}

	clientID := model.ClientID(parts[0])
	if !clientID.Valid() {
		return Fields{}, ErrBadClientID
	}

	f := Fields{
		ClientID: clientID,
		PIN:      parts[1],
	}

	if parts[2] != "" {
		seq, err := strconv.ParseUint(parts[2], 10, 32)
		if err != nil {
			return Fields{}, ErrBadSeq
		}
		f.Seq = uint32(seq)
		f.HasSeq = true
	}

	if parts[3] != "" {
		if len(parts[3]) != 4 || !allDigits(parts[3]) {
			return Fields{}, ErrBadMMSS
		}
		f.MMSS = parts[3]
		f.HasMMSS = true
	}

	eventID, err := strconv.Atoi(parts[4])
	if err != nil {
		return Fields{}, ErrBadEventID
	}
	f.EventKind = model.EventKindFromWire(eventID)

	sensorID := model.SensorID(parts[5])
	if !sensorID.Valid() {
		return Fields{}, ErrBadSensorID
	}
	f.SensorID = sensorID
	f.Extra = parts[6]

	return f, nil
}

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// PhoneFields is the decoded form of a phone-fallback frame, which omits
// client id and PIN (already conveyed by the call handshake):
// <seq>*<mmss>*<event_id>*<sensor_id>*<extra>#
type PhoneFields struct {
	Seq       uint32
	HasSeq    bool
	MMSS      string
	HasMMSS   bool
	EventKind model.EventKind
	SensorID  model.SensorID
	Extra     string
}

// EncodePhonePayload renders f as a phone-fallback frame (no client id/PIN).
func EncodePhonePayload(f PhoneFields) []byte {
	seqStr := ""
	if f.HasSeq {
		seqStr = strconv.FormatUint(uint64(f.Seq), 10)
	}
	parts := []string{
		seqStr,
		f.MMSS,
		strconv.Itoa(int(f.EventKind)),
		string(f.SensorID),
		f.Extra,
	}
	return []byte(strings.Join(parts, "*") + "#")
}

// DecodePhonePayload parses a phone-fallback frame, as received by the
// server after the call handshake has already identified the client.
func DecodePhonePayload(b []byte) (PhoneFields, error) {
	if len(b) < MinFrameLen {
		return PhoneFields{}, ErrTooShort
	}
	if len(b) > MaxFrameLen {
		return PhoneFields{}, ErrTooLong
	}
	if b[len(b)-1] != '#' {
		return PhoneFields{}, ErrNoTerminator
	}
	parts := strings.Split(string(b[:len(b)-1]), "*")
	if len(parts) != 5 {
		return PhoneFields{}, ErrFieldCount
	}

	var f PhoneFields
	if parts[0] != "" {
		seq, err := strconv.ParseUint(parts[0], 10, 32)
		if err != nil {
			return PhoneFields{}, ErrBadSeq
		}
		f.Seq = uint32(seq)
		f.HasSeq = true
	}
	if parts[1] != "" {
		if len(parts[1]) != 4 || !allDigits(parts[1]) {
			return PhoneFields{}, ErrBadMMSS
		}
		f.MMSS = parts[1]
		f.HasMMSS = true
	}
	eventID, err := strconv.Atoi(parts[2])
	if err != nil {
		return PhoneFields{}, ErrBadEventID
	}
	f.EventKind = model.EventKindFromWire(eventID)

	sensorID := model.SensorID(parts[3])
	if !sensorID.Valid() {
		return PhoneFields{}, ErrBadSensorID
	}
	f.SensorID = sensorID
	f.Extra = parts[4]

	return f, nil
}

// StripHeader takes a fully-encoded client->server frame (as stored in the
// event queue) and returns the bytes after the second '*', i.e. the
// seq/mmss/event/sensor/extra payload with client id and PIN removed — the
// form the phone transport streams once the handshake has already
// conveyed identity (§4.6 step 4).
func StripHeader(b []byte) ([]byte, error) {
	first := strings.IndexByte(string(b), '*')
	if first < 0 {
		return nil, ErrFieldCount
	}
	second := strings.IndexByte(string(b[first+1:]), '*')
	if second < 0 {
		return nil, ErrFieldCount
	}
	return b[first+1+second+1:], nil
}

// EncodeIPAck renders the IP-transport ACK form: '*'<next_expected_seq>'#',
// or a bare '*' when nextSeq is nil (PING ack, §4.1/§6.1).
func EncodeIPAck(nextSeq *uint32) []byte {
	if nextSeq == nil {
		return []byte("*")
	}
	return []byte("*" + strconv.FormatUint(uint64(*nextSeq), 10) + "#")
}

// DecodeIPAck parses an IP-transport ACK. hasSeq is false for a bare '*'
// PING ack.
func DecodeIPAck(b []byte) (nextSeq uint32, hasSeq bool, err error) {
	if len(b) == 0 || b[0] != '*' {
		return 0, false, ErrBadAck
	}
	if len(b) == 1 {
		return 0, false, nil
	}
	if b[len(b)-1] != '#' {
		return 0, false, ErrBadAck
	}
	numStr := string(b[1 : len(b)-1])
	if numStr == "" {
		return 0, false, nil
	}
	n, err := strconv.ParseUint(numStr, 10, 32)
	if err != nil {
		return 0, false, ErrBadAck
	}
	return uint32(n), true, nil
}

// EncodePhoneAck renders the phone-transport ACK form: <next_expected_seq>'#'.
func EncodePhoneAck(nextSeq uint32) []byte {
	return []byte(strconv.FormatUint(uint64(nextSeq), 10) + "#")
}

// DecodePhoneAck parses a phone-transport ACK.
func DecodePhoneAck(b []byte) (uint32, error) {
	if len(b) < 2 || b[len(b)-1] != '#' {
		return 0, ErrBadAck
	}
	n, err := strconv.ParseUint(string(b[:len(b)-1]), 10, 32)
	if err != nil {
		return 0, ErrBadAck
	}
	return uint32(n), nil
}
