package server

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/eggyy1224/space-live-project-sub000/internal/session"
	"github.com/eggyy1224/space-live-project-sub000/pkg/types"
)

// Inbound frame types.
const (
	TypeChatMessage = "chat-message"
	TypeMessage     = "message"
	TypeMurmur      = "murmur"
	TypeAudio       = "audio"
	TypeSpeechEnded = "speech-ended"
)

// Outbound frame types.
const (
	TypeTrajectory = "emotionalTrajectory"
	TypeSTTResult  = "stt-result"
	TypeError      = "error"
)

var errUnknownFrame = errors.New("server: unknown frame type")

// inbound is the union of every client frame.
type inbound struct {
	Type     string `json:"type"`
	Message  string `json:"message,omitempty"`
	Content  string `json:"content,omitempty"`
	Data     string `json:"data,omitempty"`
	MIMEType string `json:"mimeType,omitempty"`
}

// Text returns message, falling back to content.
func (f inbound) Text() string {
	if s := strings.TrimSpace(f.Message); s != "" {
		return s
	}
	return strings.TrimSpace(f.Content)
}

// Audio decodes the base64 payload of an audio frame. Data URLs
// ("data:audio/webm;base64,...") are accepted and supply the MIME type when
// the frame does not.
func (f inbound) Audio() ([]byte, string, error) {
	data, mime := f.Data, f.MIMEType
	if rest, ok := strings.CutPrefix(data, "data:"); ok {
		header, payload, found := strings.Cut(rest, ",")
		if !found {
			return nil, "", errors.New("server: malformed data url")
		}
		if mime == "" {
			mime = strings.TrimSuffix(header, ";base64")
		}
		data = payload
	}
	audio, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, "", fmt.Errorf("server: decode audio: %w", err)
	}
	return audio, mime, nil
}

func parseInbound(data []byte) (inbound, error) {
	var f inbound
	if err := json.Unmarshal(data, &f); err != nil {
		return inbound{}, fmt.Errorf("server: decode frame: %w", err)
	}
	switch f.Type {
	case TypeChatMessage, TypeMessage, TypeMurmur, TypeAudio, TypeSpeechEnded:
		return f, nil
	}
	return inbound{}, fmt.Errorf("%w %q", errUnknownFrame, f.Type)
}

type botMessage struct {
	ID                    string               `json:"id"`
	Role                  string               `json:"role"`
	Content               string               `json:"content"`
	BodyAnimationSequence []types.BodyKeyframe `json:"bodyAnimationSequence"`
	AudioURL              *string              `json:"audioUrl"`
	IsMurmur              bool                 `json:"isMurmur,omitempty"`
	Timestamp             *string              `json:"timestamp"`
}

type chatFrame struct {
	Type    string     `json:"type"`
	Message botMessage `json:"message"`
}

type trajectory struct {
	Duration  float64                 `json:"duration"`
	Keyframes []types.EmotionKeyframe `json:"keyframes"`
}

type trajectoryFrame struct {
	Type    string     `json:"type"`
	Payload trajectory `json:"payload"`
}

type sttFrame struct {
	Type       string  `json:"type"`
	Success    bool    `json:"success"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence,omitempty"`
	Error      string  `json:"error,omitempty"`
}

type errorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// replyFrames renders a reply as the chat-message frame and, when the reply
// carries emotion keyframes, the trajectory frame that follows it.
func replyFrames(r session.Reply) []any {
	msg := botMessage{
		ID:                    r.ID,
		Role:                  "bot",
		Content:               r.Content,
		BodyAnimationSequence: r.Body,
		IsMurmur:              r.IsMurmur,
	}
	if msg.BodyAnimationSequence == nil {
		msg.BodyAnimationSequence = []types.BodyKeyframe{}
	}
	if r.AudioURL != "" {
		u := r.AudioURL
		msg.AudioURL = &u
	}
	frames := []any{chatFrame{Type: TypeChatMessage, Message: msg}}
	if len(r.Emotions) > 0 {
		frames = append(frames, trajectoryFrame{
			Type:    TypeTrajectory,
			Payload: trajectory{Duration: r.Duration.Seconds(), Keyframes: r.Emotions},
		})
	}
	return frames
}
