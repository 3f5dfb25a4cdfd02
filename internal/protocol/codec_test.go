package protocol

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	sender := NewGUID()

	cases := []struct {
		name string
		body Body
	}{
		{"init", InitBody{MaxPlayers: 8}},
		{"player", PlayerBody{
			Pos:          Vector3{X: 1, Y: 2, Z: 3},
			Rot:          Quaternion{X: 0, Y: 0, Z: 0, W: 1},
			BlendWeights: [6]float32{0.1, 0.2, 0.3, 0.4, 0.5, 0.6},
			Act:          42,
			SubAct:       7,
		}},
		{"cap", CapBody{Pos: Vector3{X: 4, Y: 5, Z: 6}, Rot: Quaternion{W: 1}, Deployed: true, CapAnim: "Fly"}},
		{"game", GameBody{Is2D: true, Scenario: 5, Stage: "WaterfallWorldHomeStage"}},
		{"tag", TagBody{UpdateKind: TagUpdateTime, IsSeeker: true, Seconds: 30, Minutes: 2}},
		{"connect", ConnectBody{Kind: ConnectionFirst, MaxPlayers: 8, Name: "Mario"}},
		{"disconnect", DisconnectBody{}},
		{"costume", CostumeBody{Costume: Costume{BodyName: "Mario", CapName: "MarioCap"}}},
		{"shine", ShineBody{ShineID: 99, IsGrand: true}},
		{"capture", CaptureBody{Model: "Goomba"}},
		{"changeStage", ChangeStageBody{Stage: "CapWorldHomeStage", ID: "start", Scenario: 0, SubScenario: 1}},
		{"command", CommandBody{}},
		{"udpInit", UdpInitBody{Port: 53420}},
		{"holePunch", HolePunchBody{}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			pkt := NewPacket(sender, tc.body)
			buf, err := Encode(pkt)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}

			consumed, err := Check(buf)
			if err != nil {
				t.Fatalf("Check: %v", err)
			}
			if consumed != len(buf) {
				t.Fatalf("Check consumed %d, want %d", consumed, len(buf))
			}

			decoded, n, err := Decode(buf)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if n != len(buf) {
				t.Fatalf("Decode consumed %d, want %d", n, len(buf))
			}
			if decoded.SenderID != sender {
				t.Fatalf("SenderID mismatch: got %v want %v", decoded.SenderID, sender)
			}
			if decoded.Body.Tag() != tc.body.Tag() {
				t.Fatalf("Tag mismatch: got %v want %v", decoded.Body.Tag(), tc.body.Tag())
			}
		})
	}
}

func TestCheckNeedsMoreOnPartialHeader(t *testing.T) {
	if _, err := Check(make([]byte, HeaderSize-1)); err == nil {
		t.Fatal("expected ErrNeedMore on short header")
	}
}

func TestCheckNeedsMoreOnPartialBody(t *testing.T) {
	pkt := NewPacket(NewGUID(), InitBody{MaxPlayers: 4})
	buf, err := Encode(pkt)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if _, err := Check(buf[:len(buf)-1]); err == nil {
		t.Fatal("expected ErrNeedMore on truncated body")
	}
}

func TestDecodeUnknownTagPassesThrough(t *testing.T) {
	sender := NewGUID()
	raw := []byte{0xAA, 0xBB, 0xCC}
	pkt := NewPacket(sender, UnknownBody{TagID: Tag(9001), Raw: raw})

	buf, err := Encode(pkt)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	decoded, _, err := Decode(buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	unk, ok := decoded.Body.(UnknownBody)
	if !ok {
		t.Fatalf("expected UnknownBody, got %T", decoded.Body)
	}
	if unk.TagID != Tag(9001) || !bytes.Equal(unk.Raw, raw) {
		t.Fatalf("unknown body mismatch: %+v", unk)
	}
}

func TestDecodeMalformedBodyTooShort(t *testing.T) {
	sender := NewGUID()
	buf := make([]byte, HeaderSize+1)
	copy(buf[0:16], sender[:])
	buf[16] = byte(TagInit)
	buf[18] = 1 // body length 1, but InitBody needs 2

	if _, _, err := Decode(buf); err == nil {
		t.Fatal("expected malformed-body error for truncated InitBody")
	}
}

func TestFixedStringRoundTripTrimsNUL(t *testing.T) {
	pkt := NewPacket(NewGUID(), ConnectBody{Kind: ConnectionFirst, MaxPlayers: 8, Name: "Mario"})
	buf, err := Encode(pkt)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	decoded, _, err := Decode(buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	cb := decoded.Body.(ConnectBody)
	if cb.Name != "Mario" {
		t.Fatalf("Name = %q, want %q", cb.Name, "Mario")
	}
}
