package channel

import (
	"errors"
	"testing"

	"watchcompanion/internal/domain"
)

func TestDecode_Envelope(t *testing.T) {
	msg, err := Decode([]byte(`{"type":"ReplacePlayer","data":{"title":"Show","episodeNumber":3,"episodeId":"ep-3","animeId":"a1","fansubList":["G"]}}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if msg.Kind != KindReplacePlayer || !msg.Kind.Known() {
		t.Fatalf("kind = %q", msg.Kind)
	}
	var rp ReplacePlayer
	if err := msg.Bind(&rp); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if rp.EpisodeID != "ep-3" || rp.EpisodeNumber != 3 || len(rp.Fansubs) != 1 {
		t.Fatalf("payload = %+v", rp)
	}
}

func TestDecode_Rejects(t *testing.T) {
	for _, raw := range []string{`not json`, `{"data":{}}`} {
		if _, err := Decode([]byte(raw)); !errors.Is(err, domain.ErrInvalidArgument) {
			t.Errorf("Decode(%q) err = %v", raw, err)
		}
	}
}

func TestMessage_BindWithoutPayload(t *testing.T) {
	msg, _ := NewMessage(KindTogglePlay, nil)
	var s Seek
	if err := msg.Bind(&s); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
	data, err := Encode(msg)
	if err != nil || string(data) != `{"type":"TogglePlay"}` {
		t.Fatalf("Encode = %s, %v", data, err)
	}
}

func TestKind_Known(t *testing.T) {
	if Kind("Bogus").Known() {
		t.Fatal("unexpected known kind")
	}
	if !KindPlayerReplaceFailed.Known() {
		t.Fatal("PlayerReplaceFailed should be known")
	}
}
