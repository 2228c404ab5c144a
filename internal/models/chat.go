package models

import (
	"encoding/json"
	"fmt"
	"time"
)

type RoomKind string

const (
	RoomMatch    RoomKind = "match"
	RoomBusiness RoomKind = "business"
)

// Room is a chat room. Exactly one of Match or Business is set, matching Kind.
type Room struct {
	ID            string        `json:"id"`
	Kind          RoomKind      `json:"kind"`
	Match         *MatchRoom    `json:"match,omitempty"`
	Business      *BusinessRoom `json:"business,omitempty"`
	LastSeq       int64         `json:"lastSeq"`
	LastMessageAt time.Time     `json:"lastMessageAt"`
	LastMessageBy string        `json:"lastMessageBy,omitempty"`
	HasUnread     bool          `json:"hasUnread"`
	CreatedAt     time.Time     `json:"createdAt"`
}

type MatchRoom struct {
	MatchID string `json:"matchId"`
	User1ID string `json:"user1Id"`
	User2ID string `json:"user2Id"`
}

type BusinessRoom struct {
	CustomerID        string `json:"customerId"`
	BusinessProfileID string `json:"businessProfileId"`
}

// Participants lists the user ids directly recorded on the room. Business
// rooms only record the customer; the business side is resolved by profile.
func (r *Room) Participants() []string {
	switch r.Kind {
	case RoomMatch:
		if r.Match != nil {
			return []string{r.Match.User1ID, r.Match.User2ID}
		}
	case RoomBusiness:
		if r.Business != nil {
			return []string{r.Business.CustomerID}
		}
	}
	return nil
}

func (r *Room) HasMember(userID string) bool {
	for _, p := range r.Participants() {
		if p == userID && userID != "" {
			return true
		}
	}
	return false
}

type MessageType string

const (
	MessageText     MessageType = "text"
	MessageImage    MessageType = "image"
	MessageFile     MessageType = "file"
	MessageSystem   MessageType = "system"
	MessageProposal MessageType = "proposal"
)

// Body is the type-specific payload of a message.
type Body interface {
	Type() MessageType
}

type TextBody struct {
	Text string `json:"text"`
}

func (TextBody) Type() MessageType { return MessageText }

type MediaBody struct {
	Kind    MessageType `json:"-"`
	Caption string      `json:"caption,omitempty"`
}

func (b MediaBody) Type() MessageType { return b.Kind }

type SystemBody struct {
	Code string         `json:"code"`
	Text string         `json:"text"`
	Data map[string]any `json:"data,omitempty"`
}

func (SystemBody) Type() MessageType { return MessageSystem }

// ProposalBody is rendered by clients as an actionable booking card.
type ProposalBody struct {
	BookingID   string         `json:"bookingId"`
	MatchID     string         `json:"matchId"`
	ProposerID  string         `json:"proposerId"`
	ReceiverID  string         `json:"receiverId"`
	FieldID     string         `json:"fieldId"`
	CourtID     string         `json:"courtId,omitempty"`
	Date        string         `json:"date"`
	StartTime   string         `json:"startTime"`
	EndTime     string         `json:"endTime"`
	TotalAmount int64          `json:"totalAmount"`
	ShareAmount int64          `json:"shareAmount"`
	Currency    string         `json:"currency"`
	Status      ProposalStatus `json:"status"`
	Note        string         `json:"note,omitempty"`
}

func (ProposalBody) Type() MessageType { return MessageProposal }

type Attachment struct {
	Key         string `json:"key"`
	FileName    string `json:"fileName"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
}

type Message struct {
	ID          string       `json:"id"`
	RoomID      string       `json:"roomId"`
	Seq         int64        `json:"seq"`
	SenderID    string       `json:"senderId"`
	Type        MessageType  `json:"type"`
	Body        Body         `json:"body"`
	Attachments []Attachment `json:"attachments,omitempty"`
	IsRead      bool         `json:"isRead"`
	CreatedAt   time.Time    `json:"createdAt"`
}

type wireMessage struct {
	ID          string          `json:"id"`
	RoomID      string          `json:"roomId"`
	Seq         int64           `json:"seq"`
	SenderID    string          `json:"senderId"`
	Type        MessageType     `json:"type"`
	Body        json.RawMessage `json:"body"`
	Attachments []Attachment    `json:"attachments,omitempty"`
	IsRead      bool            `json:"isRead"`
	CreatedAt   time.Time       `json:"createdAt"`
}

func (m Message) MarshalJSON() ([]byte, error) {
	body, err := json.Marshal(m.Body)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireMessage{
		ID: m.ID, RoomID: m.RoomID, Seq: m.Seq, SenderID: m.SenderID, Type: m.Type,
		Body: body, Attachments: m.Attachments, IsRead: m.IsRead, CreatedAt: m.CreatedAt,
	})
}

func (m *Message) UnmarshalJSON(b []byte) error {
	var w wireMessage
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	body, err := DecodeBody(w.Type, w.Body)
	if err != nil {
		return err
	}
	*m = Message{
		ID: w.ID, RoomID: w.RoomID, Seq: w.Seq, SenderID: w.SenderID, Type: w.Type,
		Body: body, Attachments: w.Attachments, IsRead: w.IsRead, CreatedAt: w.CreatedAt,
	}
	return nil
}

// DecodeBody decodes a raw body according to its message type.
func DecodeBody(t MessageType, raw json.RawMessage) (Body, error) {
	if len(raw) == 0 || string(raw) == "null" {
		raw = json.RawMessage("{}")
	}
	switch t {
	case MessageText:
		var b TextBody
		err := json.Unmarshal(raw, &b)
		return b, err
	case MessageImage, MessageFile:
		b := MediaBody{Kind: t}
		err := json.Unmarshal(raw, &b)
		return b, err
	case MessageSystem:
		var b SystemBody
		err := json.Unmarshal(raw, &b)
		return b, err
	case MessageProposal:
		var b ProposalBody
		err := json.Unmarshal(raw, &b)
		return b, err
	}
	return nil, fmt.Errorf("unknown message type %q", t)
}
