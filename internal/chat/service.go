// Package chat is the message log of match and business rooms and its live
// delivery through the realtime dispatcher.
package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/example/court-matching/internal/apperr"
	"github.com/example/court-matching/internal/collab"
	"github.com/example/court-matching/internal/logging"
	"github.com/example/court-matching/internal/models"
	"github.com/example/court-matching/internal/observability"
	"github.com/example/court-matching/internal/storage"
)

const (
	EventNewMessage   = "new_message"
	EventNotification = "message_notification"
	EventMessagesRead = "messages_read"
	EventTyping       = "typing"

	defaultHistory = 50
	maxHistory     = 200
	maxTextLen     = 4000
)

// Emitter is the part of the realtime dispatcher chat delivers through.
type Emitter interface {
	EmitToUser(ctx context.Context, userID, event string, payload any)
	EmitToRoom(ctx context.Context, room, event string, payload any)
	EmitToRoomExcept(ctx context.Context, room, exceptConnID, event string, payload any)
	Join(connID, room string) bool
	InRoom(connID, room string) bool
}

type Store interface {
	storage.ChatStore
	UpdateMatch(ctx context.Context, id string, fn func(*models.Match) error) (*models.Match, error)
}

type Service struct {
	store     Store
	rt        Emitter
	directory collab.BusinessDirectory
	presigner Presigner
	logger    *slog.Logger
	now       func() time.Time
}

// NewService builds the chat service. directory and presigner may be nil,
// which disables business-side senders and attachment uploads.
func NewService(store Store, rt Emitter, directory collab.BusinessDirectory, presigner Presigner, logger *slog.Logger) *Service {
	return &Service{
		store:     store,
		rt:        rt,
		directory: directory,
		presigner: presigner,
		logger:    logging.OrDiscard(logger),
		now:       time.Now,
	}
}

// Notification is the preview pushed to the counterpart's personal room.
type Notification struct {
	RoomID    string             `json:"roomId"`
	MessageID string             `json:"messageId"`
	SenderID  string             `json:"senderId"`
	Type      models.MessageType `json:"type"`
	Preview   string             `json:"preview,omitempty"`
}

type ReadReceipt struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
	Count  int    `json:"count"`
}

// CreateMatchRoom creates the room of m under m.ChatRoomID. It is idempotent.
func (s *Service) CreateMatchRoom(ctx context.Context, m *models.Match) (*models.Room, error) {
	r := &models.Room{
		ID:        m.ChatRoomID,
		Kind:      models.RoomMatch,
		Match:     &models.MatchRoom{MatchID: m.ID, User1ID: m.User1ID, User2ID: m.User2ID},
		CreatedAt: s.now().UTC(),
	}
	return s.createRoom(ctx, r)
}

// OpenBusinessRoom returns the room between a customer and a business
// profile, creating it on first use.
func (s *Service) OpenBusinessRoom(ctx context.Context, customerID, businessProfileID string) (*models.Room, error) {
	if customerID == "" || businessProfileID == "" {
		return nil, apperr.New(apperr.KindValidation, "invalid_room", "customer and business profile are required")
	}
	r := &models.Room{
		ID:        BusinessRoomID(customerID, businessProfileID),
		Kind:      models.RoomBusiness,
		Business:  &models.BusinessRoom{CustomerID: customerID, BusinessProfileID: businessProfileID},
		CreatedAt: s.now().UTC(),
	}
	return s.createRoom(ctx, r)
}

// BusinessRoomID is stable for a customer and business profile pair.
func BusinessRoomID(customerID, businessProfileID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("business-chat:"+customerID+"|"+businessProfileID)).String()
}

func (s *Service) createRoom(ctx context.Context, r *models.Room) (*models.Room, error) {
	err := s.store.CreateRoom(ctx, r)
	if errors.Is(err, storage.ErrDuplicate) {
		return s.store.GetRoom(ctx, r.ID)
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (s *Service) Room(ctx context.Context, roomID, userID string) (*models.Room, error) {
	r, err := s.store.GetRoom(ctx, roomID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.New(apperr.KindNotFound, "room_not_found", "chat room not found")
	}
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, r, userID); err != nil {
		return nil, err
	}
	return r, nil
}

// authorize lets match participants and the business customer in directly;
// anyone else must be resolved as acting for the business profile.
func (s *Service) authorize(ctx context.Context, r *models.Room, userID string) error {
	if r.HasMember(userID) {
		return nil
	}
	if r.Kind == models.RoomBusiness && r.Business != nil && s.directory != nil && userID != "" {
		ok, err := s.directory.OwnsProfile(ctx, userID, r.Business.BusinessProfileID)
		if err != nil {
			return apperr.Wrap(apperr.KindDependency, "directory", err, "business directory lookup failed")
		}
		if ok {
			return nil
		}
	}
	return apperr.ErrNotParticipant
}

// Send appends a user message and fans it out.
func (s *Service) Send(ctx context.Context, roomID, senderID string, body models.Body, attachments []models.Attachment) (*models.Message, error) {
	r, err := s.Room(ctx, roomID, senderID)
	if err != nil {
		return nil, err
	}
	if err := validateBody(roomID, body, attachments); err != nil {
		return nil, err
	}
	if err := s.touchMatch(ctx, r, true); err != nil {
		return nil, err
	}
	return s.post(ctx, r, senderID, body, attachments)
}

// SystemMessage appends a message with no sender.
func (s *Service) SystemMessage(ctx context.Context, roomID string, body models.SystemBody) (*models.Message, error) {
	return s.postTo(ctx, roomID, "", body)
}

// PostProposal appends the structured proposal card on behalf of the proposer.
func (s *Service) PostProposal(ctx context.Context, roomID, proposerID string, body models.ProposalBody) (*models.Message, error) {
	return s.postTo(ctx, roomID, proposerID, body)
}

func (s *Service) postTo(ctx context.Context, roomID, senderID string, body models.Body) (*models.Message, error) {
	r, err := s.store.GetRoom(ctx, roomID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.New(apperr.KindNotFound, "room_not_found", "chat room not found")
	}
	if err != nil {
		return nil, err
	}
	if err := s.touchMatch(ctx, r, false); err != nil {
		s.logger.Warn("match touch failed", "room_id", roomID, "error", err)
	}
	return s.post(ctx, r, senderID, body, nil)
}

func (s *Service) post(ctx context.Context, r *models.Room, senderID string, body models.Body, attachments []models.Attachment) (*models.Message, error) {
	msg := &models.Message{
		ID:          uuid.NewString(),
		RoomID:      r.ID,
		SenderID:    senderID,
		Type:        body.Type(),
		Body:        body,
		Attachments: attachments,
		CreatedAt:   s.now().UTC(),
	}
	room, err := s.store.AppendMessage(ctx, msg)
	if err != nil {
		return nil, err
	}
	observability.ChatMessages.WithLabelValues(string(msg.Type)).Inc()

	s.rt.EmitToRoom(ctx, room.ID, EventNewMessage, msg)
	for _, uid := range s.counterparts(room, senderID) {
		s.rt.EmitToUser(ctx, uid, EventNotification, Notification{
			RoomID: room.ID, MessageID: msg.ID, SenderID: senderID, Type: msg.Type, Preview: preview(body),
		})
	}
	return msg, nil
}

// touchMatch bumps the match's last interaction. With strict set, a match
// either side has left refuses new traffic.
func (s *Service) touchMatch(ctx context.Context, r *models.Room, strict bool) error {
	if r.Kind != models.RoomMatch || r.Match == nil || r.Match.MatchID == "" {
		return nil
	}
	_, err := s.store.UpdateMatch(ctx, r.Match.MatchID, func(m *models.Match) error {
		if strict && m.Unmatched() {
			return apperr.New(apperr.KindInvalidState, "match_unmatched", "match has ended")
		}
		m.LastInteractionAt = s.now().UTC()
		return nil
	})
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	return err
}

func (s *Service) counterparts(r *models.Room, senderID string) []string {
	var out []string
	for _, p := range r.Participants() {
		if p != senderID {
			out = append(out, p)
		}
	}
	return out
}

// MarkRead marks the other side's messages read for userID.
func (s *Service) MarkRead(ctx context.Context, roomID, userID string) (int, error) {
	if _, err := s.Room(ctx, roomID, userID); err != nil {
		return 0, err
	}
	n, _, err := s.store.MarkRead(ctx, roomID, userID)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.rt.EmitToRoom(ctx, roomID, EventMessagesRead, ReadReceipt{RoomID: roomID, UserID: userID, Count: n})
	}
	return n, nil
}

// History returns messages with seq greater than afterSeq, oldest first.
func (s *Service) History(ctx context.Context, roomID, userID string, afterSeq int64, limit int) ([]*models.Message, error) {
	if _, err := s.Room(ctx, roomID, userID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultHistory
	}
	if limit > maxHistory {
		limit = maxHistory
	}
	return s.store.ListMessages(ctx, roomID, afterSeq, limit)
}

func validateBody(roomID string, body models.Body, attachments []models.Attachment) error {
	if body == nil {
		return apperr.New(apperr.KindValidation, "invalid_message", "message body is required")
	}
	switch b := body.(type) {
	case models.TextBody:
		t := strings.TrimSpace(b.Text)
		if t == "" {
			return apperr.New(apperr.KindValidation, "invalid_message", "text must not be empty")
		}
		if len(t) > maxTextLen {
			return apperr.Newf(apperr.KindValidation, "invalid_message", "text longer than %d bytes", maxTextLen)
		}
	case models.MediaBody:
		if b.Kind != models.MessageImage && b.Kind != models.MessageFile {
			return apperr.New(apperr.KindValidation, "invalid_message", "media type must be image or file")
		}
		if len(attachments) == 0 {
			return apperr.New(apperr.KindValidation, "invalid_message", "media messages need an attachment")
		}
	default:
		return apperr.Newf(apperr.KindValidation, "invalid_message", "%s messages cannot be sent by users", body.Type())
	}
	prefix := AttachmentPrefix(roomID)
	for _, a := range attachments {
		if !strings.HasPrefix(a.Key, prefix) {
			return apperr.New(apperr.KindValidation, "invalid_attachment", "attachment was not uploaded to this room")
		}
	}
	return nil
}

func preview(b models.Body) string {
	switch v := b.(type) {
	case models.TextBody:
		r := []rune(v.Text)
		if len(r) > 80 {
			return string(r[:80])
		}
		return v.Text
	case models.MediaBody:
		return v.Caption
	case models.SystemBody:
		return v.Text
	case models.ProposalBody:
		return "New booking proposal"
	}
	return ""
}
