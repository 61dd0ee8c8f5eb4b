package protocol

import "encoding/binary"

// MessageKind classifies a frame's type id into a semantic message kind.
type MessageKind int

// Known message kinds. The catalogue is reverse-engineered and partial:
// UnknownA and UnknownB carry well-known type ids whose payloads have not
// been identified, anything else classifies as KindUnknown.
const (
	KindUnknown MessageKind = iota
	KindDiscovery
	KindModelInfoRequest
	KindModelInfoResponse
	KindStatusFormatRequest
	KindStatusFormatResponse
	KindStatusDataRequest
	KindStatusDataResponse
	KindHistoryRequest
	KindHistoryData
	KindHistoryClose
	KindUnknownA
	KindUnknownB
)

// String returns the message kind name.
func (k MessageKind) String() string {
	switch k {
	case KindDiscovery:
		return "discovery"
	case KindModelInfoRequest:
		return "model_info_request"
	case KindModelInfoResponse:
		return "model_info_response"
	case KindStatusFormatRequest:
		return "status_format_request"
	case KindStatusFormatResponse:
		return "status_format_response"
	case KindStatusDataRequest:
		return "status_data_request"
	case KindStatusDataResponse:
		return "status_data_response"
	case KindHistoryRequest:
		return "history_request"
	case KindHistoryData:
		return "history_data"
	case KindHistoryClose:
		return "history_close"
	case KindUnknownA:
		return "unknown_a"
	case KindUnknownB:
		return "unknown_b"
	default:
		return "unknown"
	}
}

// Type ids of the message catalogue.
var (
	TypeDiscovery           = TypeID{0x00, 0x40, 0x02}
	TypeModelInfoRequest    = TypeID{0x01, 0x03, 0x02}
	TypeModelInfoResponse   = TypeID{0x01, 0x83, 0x00}
	TypeStatusFormatRequest = TypeID{0x01, 0x00, 0x02}
	TypeStatusFormatResp    = TypeID{0x01, 0x80, 0x00}
	TypeStatusDataRequest   = TypeID{0x01, 0x02, 0x02}
	TypeStatusDataResponse  = TypeID{0x01, 0x82, 0x00}
	TypeHistoryRequest      = TypeID{0x06, 0x01, 0x02}
	TypeHistoryData         = TypeID{0x06, 0x61, 0x00}
	TypeHistoryClose        = TypeID{0x06, 0x81, 0x00}
	TypeUnknownA            = TypeID{0x01, 0x89, 0x00}
	TypeUnknownB            = TypeID{0x04, 0x80, 0x00}
)

// DiscoveryPayload is the fixed payload of the discovery datagram.
var DiscoveryPayload = []byte("I AM SERVER")

// Classify maps a type id to its message kind. The third byte of the
// status-data response id is inconsistent across firmware and is ignored.
func Classify(id TypeID) MessageKind {
	if id[0] == TypeStatusDataResponse[0] && id[1] == TypeStatusDataResponse[1] {
		return KindStatusDataResponse
	}
	switch id {
	case TypeDiscovery:
		return KindDiscovery
	case TypeModelInfoRequest:
		return KindModelInfoRequest
	case TypeModelInfoResponse:
		return KindModelInfoResponse
	case TypeStatusFormatRequest:
		return KindStatusFormatRequest
	case TypeStatusFormatResp:
		return KindStatusFormatResponse
	case TypeStatusDataRequest:
		return KindStatusDataRequest
	case TypeHistoryRequest:
		return KindHistoryRequest
	case TypeHistoryData:
		return KindHistoryData
	case TypeHistoryClose:
		return KindHistoryClose
	case TypeUnknownA:
		return KindUnknownA
	case TypeUnknownB:
		return KindUnknownB
	default:
		return KindUnknown
	}
}

// DiscoveryMessage returns the encoded discovery datagram broadcast to
// inverters.
func DiscoveryMessage() []byte {
	return Encode(TypeDiscovery, DiscoveryPayload)
}

// ModelInfoRequest returns the encoded model-info request frame.
func ModelInfoRequest() []byte {
	return Encode(TypeModelInfoRequest, nil)
}

// StatusFormatRequest returns the encoded status-format request frame.
func StatusFormatRequest() []byte {
	return Encode(TypeStatusFormatRequest, nil)
}

// StatusDataRequest returns the encoded status-data request frame.
func StatusDataRequest() []byte {
	return Encode(TypeStatusDataRequest, nil)
}

// HistoryRequest returns the encoded historical-data request frame for an
// inclusive range of 2-digit years.
func HistoryRequest(startYear, endYear byte) []byte {
	return Encode(TypeHistoryRequest, []byte{startYear, endYear})
}

// HistoryPacket is one parsed historical-data response payload. A day's
// telemetry log is split over expectedCount packets identified by their
// sequence number; packets may arrive out of order or duplicated.
type HistoryPacket struct {
	// Year is the full year, expanded from the 2-digit wire value.
	Year          int
	Month         int
	Day           int
	ExpectedCount uint16
	Sequence      uint16
	Fragment      []byte
}

// historyHeaderLen is the fixed prefix of a history packet payload:
// year, month, day (1 byte each), expected count and sequence (2 bytes
// each, big-endian).
const historyHeaderLen = 7

// ParseHistoryPacket parses a historical-data response payload.
func ParseHistoryPacket(payload []byte) (*HistoryPacket, error) {
	if len(payload) < historyHeaderLen {
		return nil, ErrTruncated
	}
	return &HistoryPacket{
		Year:          2000 + int(payload[0]),
		Month:         int(payload[1]),
		Day:           int(payload[2]),
		ExpectedCount: binary.BigEndian.Uint16(payload[3:5]),
		Sequence:      binary.BigEndian.Uint16(payload[5:7]),
		Fragment:      payload[historyHeaderLen:],
	}, nil
}
