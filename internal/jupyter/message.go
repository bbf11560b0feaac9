package jupyter

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	protocolVersion = "5.3"
	delimiter       = "<IDS|MSG>"
)

// Header identifies a message. The zero Header encodes as {} which is what
// the protocol expects for an absent parent.
type Header struct {
	MsgID    string `json:"msg_id,omitempty"`
	Session  string `json:"session,omitempty"`
	Username string `json:"username,omitempty"`
	Date     string `json:"date,omitempty"`
	MsgType  string `json:"msg_type,omitempty"`
	Version  string `json:"version,omitempty"`
}

// Message is one decoded protocol message.
type Message struct {
	Identities   [][]byte
	Header       Header
	ParentHeader Header
	Metadata     map[string]any
	Content      json.RawMessage
}

// Type returns the header msg_type.
func (m *Message) Type() string { return m.Header.MsgType }

// ParentID returns the msg_id of the request this message answers.
func (m *Message) ParentID() string { return m.ParentHeader.MsgID }

// Decode unmarshals the message content into v.
func (m *Message) Decode(v any) error { return json.Unmarshal(m.Content, v) }

func newMessage(session, msgType string, content any) (*Message, error) {
	raw, err := json.Marshal(content)
	if err != nil {
		return nil, fmt.Errorf("marshal %s content: %w", msgType, err)
	}
	return &Message{
		Header: Header{
			MsgID:    uuid.NewString(),
			Session:  session,
			Username: "kd5",
			Date:     time.Now().UTC().Format(time.RFC3339Nano),
			MsgType:  msgType,
			Version:  protocolVersion,
		},
		Metadata: map[string]any{},
		Content:  raw,
	}, nil
}

// signer computes message signatures; a nil key disables signing.
type signer struct{ key []byte }

func (s signer) sign(parts ...[]byte) []byte {
	if len(s.key) == 0 {
		return nil
	}
	mac := hmac.New(sha256.New, s.key)
	for _, p := range parts {
		mac.Write(p)
	}
	sum := mac.Sum(nil)
	out := make([]byte, hex.EncodedLen(len(sum)))
	hex.Encode(out, sum)
	return out
}

func (s signer) encode(m *Message) ([][]byte, error) {
	header, err := json.Marshal(m.Header)
	if err != nil {
		return nil, err
	}
	parent, err := json.Marshal(m.ParentHeader)
	if err != nil {
		return nil, err
	}
	meta := m.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	metadata, err := json.Marshal(meta)
	if err != nil {
		return nil, err
	}
	content := []byte(m.Content)
	if len(content) == 0 {
		content = []byte("{}")
	}
	frames := make([][]byte, 0, len(m.Identities)+6)
	frames = append(frames, m.Identities...)
	frames = append(frames, []byte(delimiter), s.sign(header, parent, metadata, content), header, parent, metadata, content)
	return frames, nil
}

func (s signer) decode(frames [][]byte) (*Message, error) {
	idx := -1
	for i, f := range frames {
		if bytes.Equal(f, []byte(delimiter)) {
			idx = i
			break
		}
	}
	if idx < 0 || len(frames) < idx+6 {
		return nil, fmt.Errorf("malformed message: %d frames, delimiter at %d", len(frames), idx)
	}
	sig, header, parent, metadata, content := frames[idx+1], frames[idx+2], frames[idx+3], frames[idx+4], frames[idx+5]
	if len(s.key) > 0 {
		want := s.sign(header, parent, metadata, content)
		if !hmac.Equal(want, sig) {
			return nil, signatureMismatchError{}
		}
	}
	m := &Message{Identities: frames[:idx], Content: append(json.RawMessage(nil), content...)}
	if err := json.Unmarshal(header, &m.Header); err != nil {
		return nil, fmt.Errorf("parse header: %w", err)
	}
	if err := json.Unmarshal(parent, &m.ParentHeader); err != nil {
		return nil, fmt.Errorf("parse parent header: %w", err)
	}
	if len(metadata) > 0 {
		_ = json.Unmarshal(metadata, &m.Metadata)
	}
	return m, nil
}
