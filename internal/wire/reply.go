package wire

import "strconv"

// AckStatus is the result code carried in a text-protocol reply.
type AckStatus uint8

const (
	AckSuccess AckStatus = iota
	AckFailure
	AckInvalidSession
	AckResourceLimit
)

// String returns a human-readable name for the status.
func (s AckStatus) String() string {
	switch s {
	case AckSuccess:
		return "success"
	case AckFailure:
		return "failure"
	case AckInvalidSession:
		return "invalid_session"
	case AckResourceLimit:
		return "resource_limit"
	default:
		return "unknown"
	}
}

// AppendReply appends the reply line for status to dst: {RES&<code>&}\r\n.
func AppendReply(dst []byte, status AckStatus) []byte {
	dst = append(dst, "{RES&"...)
	dst = strconv.AppendUint(dst, uint64(status), 10)
	return append(dst, "&}\r\n"...)
}
