package realtime

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestBackoff(t *testing.T) {
	bo := NewBackoff(time.Second, 60*time.Second)

	expected := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		32 * time.Second,
		60 * time.Second, // capped
		60 * time.Second, // stays capped
	}

	for i, want := range expected {
		got := bo.Next()
		if got != want {
			t.Errorf("attempt %d: got %v, want %v", i, got, want)
		}
	}
}

func TestBackoffResetAndOverflow(t *testing.T) {
	bo := NewBackoff(time.Second, 60*time.Second)
	for i := 0; i < 100; i++ {
		if d := bo.Next(); d <= 0 || d > 60*time.Second {
			t.Fatalf("attempt %d: got %v", i, d)
		}
	}
	bo.Reset()
	if got := bo.Next(); got != time.Second {
		t.Errorf("after reset: got %v, want %v", got, time.Second)
	}
}

func TestPacketEncode(t *testing.T) {
	cases := []struct {
		p    Packet
		want string
	}{
		{Packet{Type: PacketConnect, Namespace: "/files"}, "0/files,"},
		{Packet{Type: PacketConnect, Namespace: "/"}, "0"},
		{Packet{Type: PacketDisconnect, Namespace: "/bot"}, "1/bot,"},
		{Packet{Type: PacketEvent, Namespace: "/bot", ID: 7, HasID: true, Data: json.RawMessage(`["join_room",{"room":"ABC"}]`)},
			`2/bot,7["join_room",{"room":"ABC"}]`},
		{Packet{Type: PacketAck, Namespace: "/", ID: 3, HasID: true, Data: json.RawMessage(`[]`)}, "33[]"},
	}
	for _, tc := range cases {
		if got := tc.p.Encode(); got != tc.want {
			t.Errorf("Encode() = %q, want %q", got, tc.want)
		}
	}
}

func TestDecodePacket(t *testing.T) {
	p, err := DecodePacket(`2/bot_logs,["logbot",{"pid":"X1","message":"ok"}]`)
	if err != nil {
		t.Fatal(err)
	}
	if p.Type != PacketEvent || p.Namespace != "/bot_logs" || p.HasID {
		t.Errorf("packet = %+v", p)
	}

	p, err = DecodePacket(`3/files,12[null]`)
	if err != nil {
		t.Fatal(err)
	}
	if p.Type != PacketAck || p.ID != 12 || !p.HasID || string(p.Data) != "[null]" {
		t.Errorf("ack = %+v", p)
	}

	p, err = DecodePacket(`0{"sid":"abc"}`)
	if err != nil {
		t.Fatal(err)
	}
	if p.Namespace != "/" || string(p.Data) != `{"sid":"abc"}` {
		t.Errorf("root connect = %+v", p)
	}

	p, err = DecodePacket(`51-/files,4["add_file",{"_placeholder":true,"num":0}]`)
	if err != nil {
		t.Fatal(err)
	}
	if p.Type != PacketBinaryEvent || p.Attachments != 1 || p.ID != 4 {
		t.Errorf("binary = %+v", p)
	}

	p, err = DecodePacket(`1/files`)
	if err != nil || p.Namespace != "/files" {
		t.Errorf("namespace without comma = %+v, %v", p, err)
	}

	for _, bad := range []string{"", "9", "5/files,[]", "2/bot,[not json"} {
		if _, err := DecodePacket(bad); err == nil {
			t.Errorf("DecodePacket(%q) should fail", bad)
		}
	}
}

func TestEventPacketExtractsBinary(t *testing.T) {
	chunk := []byte{0, 1, 2, 250}
	p, err := newEventPacket("/files", EventAddFile, []any{AddFile{
		Name: "a.xlsx", Chunk: chunk, CurrentSize: 4, FileSize: 10, FileType: "application/zip", Seed: "s",
	}})
	if err != nil {
		t.Fatal(err)
	}
	if p.Type != PacketBinaryEvent || len(p.Buffers) != 1 || string(p.Buffers[0]) != string(chunk) {
		t.Fatalf("packet = %+v", p)
	}
	enc := p.Encode()
	if !strings.HasPrefix(enc, `51-/files,["add_file",`) {
		t.Errorf("encoded prefix = %q", enc)
	}
	if !strings.Contains(enc, `"chunk":{"_placeholder":true,"num":0}`) || !strings.Contains(enc, `"current_size":4`) {
		t.Errorf("encoded = %q", enc)
	}

	// The receiving side sees the bytes again.
	p.Buffers = [][]byte{chunk}
	args, err := p.Args()
	if err != nil {
		t.Fatal(err)
	}
	var got AddFile
	if err := json.Unmarshal(args[1], &got); err != nil {
		t.Fatal(err)
	}
	if string(got.Chunk) != string(chunk) || got.Name != "a.xlsx" {
		t.Errorf("roundtrip = %+v", got)
	}
}

func TestEventPacketPlain(t *testing.T) {
	p, err := newEventPacket("/bot", EventJoinRoom, []any{JoinRoom{Room: "PID1"}})
	if err != nil {
		t.Fatal(err)
	}
	if p.Type != PacketEvent || len(p.Buffers) != 0 {
		t.Errorf("packet = %+v", p)
	}
	if got := p.Encode(); got != `2/bot,["join_room",{"room":"PID1"}]` {
		t.Errorf("encoded = %q", got)
	}
}

func TestAckErr(t *testing.T) {
	if err := AckErr(nil); err != nil {
		t.Errorf("empty ack: %v", err)
	}
	if err := AckErr([]json.RawMessage{json.RawMessage("null")}); err != nil {
		t.Errorf("null ack: %v", err)
	}
	err := AckErr([]json.RawMessage{json.RawMessage(`"disk full"`)})
	if err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Errorf("string ack err = %v", err)
	}
	err = AckErr([]json.RawMessage{json.RawMessage(`{"message":"bad seed"}`)})
	if err == nil || !strings.Contains(err.Error(), "bad seed") {
		t.Errorf("object ack err = %v", err)
	}
}
