package domain

import (
	"encoding/json"
	"sort"
	"testing"
)

func TestPairKeyOrderIndependent(t *testing.T) {
	if PairKey("bob", "alice") != PairKey("alice", "bob") {
		t.Errorf("PairKey depends on argument order")
	}
	if got := PairKey("bob", "alice"); got != "alice:bob" {
		t.Errorf("PairKey = %q, want alice:bob", got)
	}
}

func TestNewMessageIDSortsInCreationOrder(t *testing.T) {
	ids := make([]string, 100)
	for i := range ids {
		ids[i] = NewMessageID()
	}
	if !sort.StringsAreSorted(ids) {
		t.Error("message ids are not in creation order")
	}
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if len(id) != 26 {
			t.Fatalf("id %q has length %d, want 26", id, len(id))
		}
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
}

func TestChatHasParticipant(t *testing.T) {
	c := &Chat{Participants: []string{"alice", "bob"}}
	if !c.HasParticipant("alice") || !c.HasParticipant("bob") {
		t.Error("participant not found")
	}
	if c.HasParticipant("carol") {
		t.Error("carol reported as participant")
	}
}

func TestUserDisplayName(t *testing.T) {
	if got := (&User{Name: "Alice", Phone: "+100"}).DisplayName(); got != "Alice" {
		t.Errorf("DisplayName = %q, want Alice", got)
	}
	if got := (&User{Phone: "+100"}).DisplayName(); got != "+100" {
		t.Errorf("DisplayName = %q, want phone", got)
	}
}

func TestValidTypes(t *testing.T) {
	for _, mt := range []string{MessageTypeText, MessageTypeImage, MessageTypeAudio, MessageTypeFile} {
		if !ValidMessageType(mt) {
			t.Errorf("ValidMessageType(%q) = false", mt)
		}
	}
	if ValidMessageType("sticker") {
		t.Error("ValidMessageType(sticker) = true")
	}
	if !CallTypeAudio.Valid() || !CallTypeVideo.Valid() || CallType("screen").Valid() {
		t.Error("CallType.Valid mismatch")
	}
}

func TestParseSessionDescription(t *testing.T) {
	raw := json.RawMessage(`{"type":"offer","sdp":"v=0","extra":1}`)
	sd, err := ParseSessionDescription(raw)
	if err != nil {
		t.Fatalf("ParseSessionDescription: %v", err)
	}
	if sd.Type != "offer" || sd.SDP != "v=0" {
		t.Errorf("sd = %+v", sd)
	}
	if _, err := ParseSessionDescription(json.RawMessage(`"nope"`)); err == nil {
		t.Error("want error for non-object payload")
	}
}
