package channel

import (
	"encoding/json"
	"fmt"

	"watchcompanion/internal/domain"
)

// Kind names a remote control message. The string values are the wire names.
type Kind string

const (
	KindReplacePlayer       Kind = "ReplacePlayer"
	KindFrameLoaded         Kind = "FrameLoaded"
	KindTogglePlay          Kind = "TogglePlay"
	KindVolUp               Kind = "VolUp"
	KindVolDown             Kind = "VolDown"
	KindToggleMute          Kind = "ToggleMute"
	KindToggleFullscreen    Kind = "ToggleFullscreen"
	KindSeek                Kind = "Seek"
	KindSeekPercentage      Kind = "SeekPercentage"
	KindGetCurrentTime      Kind = "GetCurrentTime"
	KindCurrentTime         Kind = "CurrentTime"
	KindNextEpisode         Kind = "NextEpisode"
	KindPreviousEpisode     Kind = "PreviousEpisode"
	KindAutoNextEpisode     Kind = "AutoNextEpisode"
	KindToast               Kind = "Toast"
	KindPlayerReplaced      Kind = "PlayerReplaced"
	KindPlayerReplaceFailed Kind = "PlayerReplaceFailed"
)

var knownKinds = map[Kind]struct{}{
	KindReplacePlayer: {}, KindFrameLoaded: {}, KindTogglePlay: {}, KindVolUp: {},
	KindVolDown: {}, KindToggleMute: {}, KindToggleFullscreen: {}, KindSeek: {},
	KindSeekPercentage: {}, KindGetCurrentTime: {}, KindCurrentTime: {},
	KindNextEpisode: {}, KindPreviousEpisode: {}, KindAutoNextEpisode: {},
	KindToast: {}, KindPlayerReplaced: {}, KindPlayerReplaceFailed: {},
}

func (k Kind) Known() bool {
	_, ok := knownKinds[k]
	return ok
}

// Message is the envelope exchanged between the host page and the embedded
// frame.
type Message struct {
	Kind    Kind            `json:"type"`
	Payload json.RawMessage `json:"data,omitempty"`
}

type ReplacePlayer struct {
	Title         string   `json:"title"`
	EpisodeNumber int      `json:"episodeNumber"`
	EpisodeID     string   `json:"episodeId"`
	AnimeID       string   `json:"animeId"`
	Fansubs       []string `json:"fansubList,omitempty"`
}

type Seek struct {
	DeltaSeconds float64 `json:"deltaSeconds"`
}

type SeekPercentage struct {
	Percentage float64 `json:"percentage"`
}

type CurrentTime struct {
	Seconds float64 `json:"seconds"`
}

type ReplaceFailed struct {
	Reason string `json:"reason,omitempty"`
}

// NewMessage builds a message; a nil payload leaves Payload empty.
func NewMessage(kind Kind, payload any) (Message, error) {
	msg := Message{Kind: kind}
	if payload == nil {
		return msg, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("encode %s payload: %w", kind, err)
	}
	msg.Payload = raw
	return msg, nil
}

// Bind decodes the payload into v.
func (m Message) Bind(v any) error {
	if len(m.Payload) == 0 {
		return fmt.Errorf("%w: %s has no payload", domain.ErrInvalidArgument, m.Kind)
	}
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("%w: %s payload: %v", domain.ErrInvalidArgument, m.Kind, err)
	}
	return nil
}

func Encode(m Message) ([]byte, error) {
	return json.Marshal(m)
}

func Decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
	}
	if m.Kind == "" {
		return Message{}, fmt.Errorf("%w: message type is required", domain.ErrInvalidArgument)
	}
	return m, nil
}

// ToastMessage wraps a toast for the host page.
func ToastMessage(t domain.Toast) Message {
	msg, _ := NewMessage(KindToast, t)
	return msg
}
