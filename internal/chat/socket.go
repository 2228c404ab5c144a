package chat

import (
	"context"
	"encoding/json"

	"github.com/example/court-matching/internal/apperr"
	"github.com/example/court-matching/internal/models"
	"github.com/example/court-matching/internal/realtime"
)

type roomRef struct {
	RoomID string `json:"roomId"`
}

// SendRequest addresses a room directly or, for business chat, through the
// business profile.
type SendRequest struct {
	RoomID            string              `json:"roomId"`
	BusinessProfileID string              `json:"businessProfileId,omitempty"`
	Type              models.MessageType  `json:"type,omitempty"`
	Content           string              `json:"content,omitempty"`
	Body              json.RawMessage     `json:"body,omitempty"`
	Attachments       []models.Attachment `json:"attachments,omitempty"`
}

// DecodeBody builds the typed body of a send request. Content is shorthand
// for the text, or the caption of media.
func (r SendRequest) DecodeBody() (models.Body, error) {
	t := r.Type
	if t == "" {
		t = models.MessageText
	}
	if len(r.Body) > 0 {
		b, err := models.DecodeBody(t, r.Body)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindValidation, "invalid_message", err, "message body does not match its type")
		}
		return b, nil
	}
	switch t {
	case models.MessageText:
		return models.TextBody{Text: r.Content}, nil
	case models.MessageImage, models.MessageFile:
		return models.MediaBody{Kind: t, Caption: r.Content}, nil
	}
	return nil, apperr.Newf(apperr.KindValidation, "invalid_message", "%s messages cannot be sent by users", t)
}

type typingRequest struct {
	RoomID   string `json:"roomId"`
	IsTyping bool   `json:"isTyping"`
}

type TypingEvent struct {
	RoomID   string `json:"roomId"`
	UserID   string `json:"userId"`
	IsTyping bool   `json:"isTyping"`
}

// SendFromRequest resolves the room of req and sends its message.
func (s *Service) SendFromRequest(ctx context.Context, senderID string, req SendRequest) (*models.Message, error) {
	roomID := req.RoomID
	if roomID == "" && req.BusinessProfileID != "" {
		r, err := s.OpenBusinessRoom(ctx, senderID, req.BusinessProfileID)
		if err != nil {
			return nil, err
		}
		roomID = r.ID
	}
	if roomID == "" {
		return nil, apperr.New(apperr.KindValidation, "invalid_message", "roomId is required")
	}
	body, err := req.DecodeBody()
	if err != nil {
		return nil, err
	}
	return s.Send(ctx, roomID, senderID, body, req.Attachments)
}

// RegisterSocketHandlers wires the chat events into r.
func (s *Service) RegisterSocketHandlers(r *realtime.Router) {
	r.Handle("join_chat", s.onJoin)
	r.Handle("send_message", s.onSend)
	r.Handle("typing", s.onTyping)
	r.Handle("read_messages", s.onRead)
}

func decode(data json.RawMessage, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return apperr.Wrap(apperr.KindValidation, "bad_payload", err, "malformed event payload")
	}
	return nil
}

func (s *Service) onJoin(ctx context.Context, c realtime.Caller, data json.RawMessage) error {
	var in roomRef
	if err := decode(data, &in); err != nil {
		return err
	}
	if _, err := s.Room(ctx, in.RoomID, c.UserID); err != nil {
		return err
	}
	s.rt.Join(c.ConnID, in.RoomID)
	return nil
}

func (s *Service) onSend(ctx context.Context, c realtime.Caller, data json.RawMessage) error {
	var in SendRequest
	if err := decode(data, &in); err != nil {
		return err
	}
	_, err := s.SendFromRequest(ctx, c.UserID, in)
	return err
}

// onTyping relays to the rest of the room and stores nothing.
func (s *Service) onTyping(ctx context.Context, c realtime.Caller, data json.RawMessage) error {
	var in typingRequest
	if err := decode(data, &in); err != nil {
		return err
	}
	if !s.rt.InRoom(c.ConnID, in.RoomID) {
		return apperr.New(apperr.KindForbidden, "not_joined", "join the chat before sending typing events")
	}
	s.rt.EmitToRoomExcept(ctx, in.RoomID, c.ConnID, EventTyping, TypingEvent{RoomID: in.RoomID, UserID: c.UserID, IsTyping: in.IsTyping})
	return nil
}

func (s *Service) onRead(ctx context.Context, c realtime.Caller, data json.RawMessage) error {
	var in roomRef
	if err := decode(data, &in); err != nil {
		return err
	}
	_, err := s.MarkRead(ctx, in.RoomID, c.UserID)
	return err
}
