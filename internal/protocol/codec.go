package protocol

import (
	"encoding/binary"
	"math"

	"smo-relay/internal/apperr"
)

// Encode writes packet to a freshly allocated byte slice: the 20-octet
// header followed by the body's typed fields, fixed-width strings
// NUL-padded to their declared size. It only fails if a body's size would
// overflow a u16 length field, which the spec treats as a programmer error.
func Encode(p Packet) ([]byte, error) {
	size := p.Body.encodedSize()
	if size > math.MaxUint16 {
		return nil, apperr.ErrIntOverflow
	}

	buf := make([]byte, HeaderSize+size)
	copy(buf[0:16], p.SenderID[:])
	binary.LittleEndian.PutUint16(buf[16:18], uint16(p.Body.Tag()))
	binary.LittleEndian.PutUint16(buf[18:20], uint16(size))

	body := buf[HeaderSize:]
	switch b := p.Body.(type) {
	case UnknownBody:
		copy(body, b.Raw)
	case InitBody:
		binary.LittleEndian.PutUint16(body[0:2], b.MaxPlayers)
	case PlayerBody:
		putVec3(body[0:12], b.Pos)
		putQuat(body[12:28], b.Rot)
		off := 28
		for _, w := range b.BlendWeights {
			binary.LittleEndian.PutUint32(body[off:off+4], math.Float32bits(w))
			off += 4
		}
		binary.LittleEndian.PutUint16(body[off:off+2], b.Act)
		binary.LittleEndian.PutUint16(body[off+2:off+4], b.SubAct)
	case CapBody:
		putVec3(body[0:12], b.Pos)
		putQuat(body[12:28], b.Rot)
		if b.Deployed {
			body[28] = 1
		}
		putFixedString(body[29:29+capAnimSize], b.CapAnim)
	case GameBody:
		if b.Is2D {
			body[0] = 1
		}
		body[1] = byte(b.Scenario)
		putFixedString(body[2:2+stageGameNameSize], b.Stage)
	case TagBody:
		body[0] = byte(b.UpdateKind)
		if b.IsSeeker {
			body[1] = 1
		}
		body[2] = b.Seconds
		binary.LittleEndian.PutUint16(body[3:5], b.Minutes)
	case ConnectBody:
		binary.LittleEndian.PutUint32(body[0:4], uint32(b.Kind))
		binary.LittleEndian.PutUint16(body[4:6], b.MaxPlayers)
		putFixedString(body[6:6+clientNameSize], b.Name)
	case DisconnectBody:
	case CostumeBody:
		putFixedString(body[0:costumeNameSize], b.Costume.BodyName)
		putFixedString(body[costumeNameSize:2*costumeNameSize], b.Costume.CapName)
	case ShineBody:
		binary.LittleEndian.PutUint32(body[0:4], uint32(b.ShineID))
		if b.IsGrand {
			body[4] = 1
		}
	case CaptureBody:
		putFixedString(body[0:costumeNameSize], b.Model)
	case ChangeStageBody:
		putFixedString(body[0:stageChangeNameSize], b.Stage)
		putFixedString(body[stageChangeNameSize:stageChangeNameSize+stageIDSize], b.ID)
		off := stageChangeNameSize + stageIDSize
		body[off] = byte(b.Scenario)
		body[off+1] = b.SubScenario
	case CommandBody:
	case UdpInitBody:
		binary.LittleEndian.PutUint16(body[0:2], b.Port)
	case HolePunchBody:
	}

	return buf, nil
}

// Check is the non-destructive framing pre-check used by a read loop to
// decide whether a complete packet is already buffered. It returns the
// number of bytes the next Decode call would consume, or ErrNeedMore.
func Check(buf []byte) (consumed int, err error) {
	if len(buf) < HeaderSize {
		return 0, apperr.ErrNeedMore
	}
	bodyLen := int(binary.LittleEndian.Uint16(buf[18:20]))
	if len(buf) < HeaderSize+bodyLen {
		return 0, apperr.ErrNeedMore
	}
	return HeaderSize + bodyLen, nil
}

// Decode parses exactly one packet from the front of buf. On success it
// returns the packet and the number of bytes consumed (header + declared
// body length, including any forward-compat padding past the typed
// fields). It never reads or advances past buf's length.
func Decode(buf []byte) (Packet, int, error) {
	consumed, err := Check(buf)
	if err != nil {
		return Packet{}, 0, err
	}

	var sender GUID
	copy(sender[:], buf[0:16])
	tag := Tag(binary.LittleEndian.Uint16(buf[16:18]))
	bodyLen := int(binary.LittleEndian.Uint16(buf[18:20]))
	body := buf[HeaderSize : HeaderSize+bodyLen]

	b, err := decodeBody(tag, body)
	if err != nil {
		return Packet{}, 0, err
	}
	return Packet{SenderID: sender, Body: b}, consumed, nil
}

func decodeBody(tag Tag, body []byte) (Body, error) {
	switch tag {
	case TagInit:
		if len(body) < 2 {
			return nil, apperr.ErrMalformedBody
		}
		return InitBody{MaxPlayers: binary.LittleEndian.Uint16(body[0:2])}, nil
	case TagPlayer:
		if len(body) < 0x38 {
			return nil, apperr.ErrMalformedBody
		}
		var weights [6]float32
		off := 28
		for i := range weights {
			weights[i] = math.Float32frombits(binary.LittleEndian.Uint32(body[off : off+4]))
			off += 4
		}
		return PlayerBody{
			Pos:          getVec3(body[0:12]),
			Rot:          getQuat(body[12:28]),
			BlendWeights: weights,
			Act:          binary.LittleEndian.Uint16(body[off : off+2]),
			SubAct:       binary.LittleEndian.Uint16(body[off+2 : off+4]),
		}, nil
	case TagCap:
		if len(body) < 29+capAnimSize {
			return nil, apperr.ErrMalformedBody
		}
		return CapBody{
			Pos:      getVec3(body[0:12]),
			Rot:      getQuat(body[12:28]),
			Deployed: body[28] != 0,
			CapAnim:  getFixedString(body[29 : 29+capAnimSize]),
		}, nil
	case TagGame:
		if len(body) < 2+stageGameNameSize {
			return nil, apperr.ErrMalformedBody
		}
		return GameBody{
			Is2D:     body[0] != 0,
			Scenario: int8(body[1]),
			Stage:    getFixedString(body[2 : 2+stageGameNameSize]),
		}, nil
	case TagTag:
		if len(body) < 5 {
			return nil, apperr.ErrMalformedBody
		}
		kind := TagUpdateState
		if body[0] == 1 {
			kind = TagUpdateTime
		}
		return TagBody{
			UpdateKind: kind,
			IsSeeker:   body[1] != 0,
			Seconds:    body[2],
			Minutes:    binary.LittleEndian.Uint16(body[3:5]),
		}, nil
	case TagConnect:
		if len(body) < 6+clientNameSize {
			return nil, apperr.ErrMalformedBody
		}
		kind := ConnectionFirst
		if binary.LittleEndian.Uint32(body[0:4]) != 0 {
			kind = ConnectionReconnect
		}
		return ConnectBody{
			Kind:       kind,
			MaxPlayers: binary.LittleEndian.Uint16(body[4:6]),
			Name:       getFixedString(body[6 : 6+clientNameSize]),
		}, nil
	case TagDisconnect:
		return DisconnectBody{}, nil
	case TagCostume:
		if len(body) < 2*costumeNameSize {
			return nil, apperr.ErrMalformedBody
		}
		return CostumeBody{Costume: Costume{
			BodyName: getFixedString(body[0:costumeNameSize]),
			CapName:  getFixedString(body[costumeNameSize : 2*costumeNameSize]),
		}}, nil
	case TagShine:
		if len(body) < 5 {
			return nil, apperr.ErrMalformedBody
		}
		return ShineBody{
			ShineID: int32(binary.LittleEndian.Uint32(body[0:4])),
			IsGrand: body[4] != 0,
		}, nil
	case TagCapture:
		if len(body) < costumeNameSize {
			return nil, apperr.ErrMalformedBody
		}
		return CaptureBody{Model: getFixedString(body[0:costumeNameSize])}, nil
	case TagChangeStage:
		if len(body) < stageChangeNameSize+stageIDSize+2 {
			return nil, apperr.ErrMalformedBody
		}
		off := stageChangeNameSize + stageIDSize
		return ChangeStageBody{
			Stage:       getFixedString(body[0:stageChangeNameSize]),
			ID:          getFixedString(body[stageChangeNameSize:off]),
			Scenario:    int8(body[off]),
			SubScenario: body[off+1],
		}, nil
	case TagCommand:
		return CommandBody{}, nil
	case TagUdpInit:
		if len(body) < 2 {
			return nil, apperr.ErrMalformedBody
		}
		return UdpInitBody{Port: binary.LittleEndian.Uint16(body[0:2])}, nil
	case TagHolePunch:
		return HolePunchBody{}, nil
	default:
		raw := make([]byte, len(body))
		copy(raw, body)
		return UnknownBody{TagID: tag, Raw: raw}, nil
	}
}

func putVec3(dst []byte, v Vector3) {
	binary.LittleEndian.PutUint32(dst[0:4], math.Float32bits(v.X))
	binary.LittleEndian.PutUint32(dst[4:8], math.Float32bits(v.Y))
	binary.LittleEndian.PutUint32(dst[8:12], math.Float32bits(v.Z))
}

func getVec3(src []byte) Vector3 {
	return Vector3{
		X: math.Float32frombits(binary.LittleEndian.Uint32(src[0:4])),
		Y: math.Float32frombits(binary.LittleEndian.Uint32(src[4:8])),
		Z: math.Float32frombits(binary.LittleEndian.Uint32(src[8:12])),
	}
}

func putQuat(dst []byte, q Quaternion) {
	binary.LittleEndian.PutUint32(dst[0:4], math.Float32bits(q.X))
	binary.LittleEndian.PutUint32(dst[4:8], math.Float32bits(q.Y))
	binary.LittleEndian.PutUint32(dst[8:12], math.Float32bits(q.Z))
	binary.LittleEndian.PutUint32(dst[12:16], math.Float32bits(q.W))
}

func getQuat(src []byte) Quaternion {
	return Quaternion{
		X: math.Float32frombits(binary.LittleEndian.Uint32(src[0:4])),
		Y: math.Float32frombits(binary.LittleEndian.Uint32(src[4:8])),
		Z: math.Float32frombits(binary.LittleEndian.Uint32(src[8:12])),
		W: math.Float32frombits(binary.LittleEndian.Uint32(src[12:16])),
	}
}

// putFixedString writes s into dst, NUL-padding (or truncating) to len(dst).
func putFixedString(dst []byte, s string) {
	n := copy(dst, s)
	for i := n; i < len(dst); i++ {
		dst[i] = 0
	}
}

// getFixedString trims the trailing NUL padding from a fixed-width field.
// NUL bytes that come before the last non-NUL byte are kept.
func getFixedString(src []byte) string {
	end := len(src)
	for end > 0 && src[end-1] == 0 {
		end--
	}
	return string(src[:end])
}
