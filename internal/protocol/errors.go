package protocol

import "errors"

// Sentinel decode errors, matching the DecodeError taxonomy in §7.
var (
	ErrTooShort     = errors.New("protocol: message shorter than 3 bytes")
	ErrTooLong      = errors.New("protocol: message longer than 256 bytes")
	ErrNoTerminator = errors.New("protocol: message missing '#' terminator")
	ErrFieldCount   = errors.New("protocol: wrong number of fields")
	ErrBadSeq       = errors.New("protocol: malformed sequence number")
	ErrBadMMSS      = errors.New("protocol: mmss must be exactly four digits")
	ErrBadClientID  = errors.New("protocol: client id is not telenumeric")
	ErrBadSensorID  = errors.New("protocol: sensor id is not telenumeric")
	ErrBadAck       = errors.New("protocol: malformed ack")
	ErrBadEventID   = errors.New("protocol: event id is not numeric")
)

const (
	MinFrameLen = 3
	MaxFrameLen = 256
)
