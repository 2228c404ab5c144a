package httpapi

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/example/court-matching/internal/apperr"
	"github.com/example/court-matching/internal/candidates"
	"github.com/example/court-matching/internal/chat"
	"github.com/example/court-matching/internal/ingest"
	"github.com/example/court-matching/internal/match"
	"github.com/example/court-matching/internal/models"
	"github.com/example/court-matching/internal/observability"
	"github.com/example/court-matching/internal/profile"
	"github.com/example/court-matching/internal/proposal"
)

func (s *Server) handleUpsertProfile(w http.ResponseWriter, r *http.Request) {
	var in profile.Input
	if err := decode(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	p, err := s.svc.Profiles.Upsert(r.Context(), userIDFromContext(r.Context()), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type profileResponse struct {
	*models.MatchProfile
	SuperLikesRemaining int `json:"superLikesRemaining"`
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	uid := userIDFromContext(r.Context())
	p, err := s.svc.Profiles.Get(r.Context(), uid)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	left, err := s.svc.Swipes.SuperLikesLeft(r.Context(), uid)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profileResponse{MatchProfile: p, SuperLikesRemaining: left})
}

func (s *Server) handleCandidates(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	flt := candidates.Filters{Sport: q.Get("sport"), Gender: models.Gender(q.Get("gender"))}
	var err error
	if flt.MaxDistanceKm, err = queryFloat(r, "maxDistanceKm"); err != nil {
		s.writeError(w, r, err)
		return
	}
	if flt.Limit, err = queryInt(r, "limit"); err != nil {
		s.writeError(w, r, err)
		return
	}
	if v := q.Get("skillLevel"); v != "" {
		lvl, ok := models.ParseSkillLevel(v)
		if !ok {
			s.writeError(w, r, apperr.Newf(apperr.KindValidation, "invalid_filter", "unknown skill level %q", v))
			return
		}
		flt.SkillLevel = lvl
	}
	out, err := s.svc.Candidates.Find(r.Context(), userIDFromContext(r.Context()), flt)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"candidates": nonNil(out)})
}

type swipeRequest struct {
	TargetID string             `json:"targetId"`
	Action   models.SwipeAction `json:"action"`
	Sport    string             `json:"sport"`
}

func (s *Server) handleSwipe(w http.ResponseWriter, r *http.Request) {
	var in swipeRequest
	if err := decode(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.svc.Swipes.Record(r.Context(), userIDFromContext(r.Context()), in.TargetID, in.Sport, in.Action)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) handleSwipeHistory(w http.ResponseWriter, r *http.Request) {
	out, err := s.svc.Swipes.History(r.Context(), userIDFromContext(r.Context()), r.URL.Query().Get("sport"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"swipes": nonNil(out)})
}

func (s *Server) handleListMatches(w http.ResponseWriter, r *http.Request) {
	status := models.MatchStatus(r.URL.Query().Get("status"))
	out, err := s.svc.Matches.List(r.Context(), userIDFromContext(r.Context()), status)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"matches": nonNil(out)})
}

func (s *Server) handleGetMatch(w http.ResponseWriter, r *http.Request) {
	s.matchOp(w, r, s.svc.Matches.Get)
}

func (s *Server) handleUnmatch(w http.ResponseWriter, r *http.Request) {
	s.matchOp(w, r, s.svc.Matches.Unmatch)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	s.matchOp(w, r, s.svc.Matches.Cancel)
}

func (s *Server) matchOp(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, userID, matchID string) (*models.Match, error)) {
	mt, err := op(r.Context(), userIDFromContext(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mt)
}

func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	var in match.ScheduleInput
	if err := decode(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	mt, err := s.svc.Matches.Schedule(r.Context(), userIDFromContext(r.Context()), mux.Vars(r)["id"], in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mt)
}

func (s *Server) handlePropose(w http.ResponseWriter, r *http.Request) {
	var in proposal.Input
	if err := decode(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	p, err := s.svc.Proposals.Propose(r.Context(), userIDFromContext(r.Context()), mux.Vars(r)["id"], in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handleListProposals(w http.ResponseWriter, r *http.Request) {
	out, err := s.svc.Proposals.ListForMatch(r.Context(), userIDFromContext(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"proposals": nonNil(out)})
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	s.proposalOp(w, r, s.svc.Proposals.Accept)
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	s.proposalOp(w, r, s.svc.Proposals.Reject)
}

func (s *Server) proposalOp(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, userID, matchID, bookingID string) (*models.Proposal, error)) {
	vars := mux.Vars(r)
	p, err := op(r.Context(), userIDFromContext(r.Context()), vars["id"], vars["bookingId"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	after, err := queryInt(r, "afterSeq")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	msgs, err := s.svc.Chat.History(r.Context(), mux.Vars(r)["roomId"], userIDFromContext(r.Context()), int64(after), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": nonNil(msgs)})
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var in chat.SendRequest
	if err := decode(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	in.RoomID = mux.Vars(r)["roomId"]
	msg, err := s.svc.Chat.SendFromRequest(r.Context(), userIDFromContext(r.Context()), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	n, err := s.svc.Chat.MarkRead(r.Context(), mux.Vars(r)["roomId"], userIDFromContext(r.Context()))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"count": n})
}

type attachmentRequest struct {
	FileName    string `json:"fileName"`
	ContentType string `json:"contentType"`
}

func (s *Server) handleAttachment(w http.ResponseWriter, r *http.Request) {
	var in attachmentRequest
	if err := decode(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	up, err := s.svc.Chat.AttachmentURL(r.Context(), mux.Vars(r)["roomId"], userIDFromContext(r.Context()), in.FileName, in.ContentType)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, up)
}

type businessRoomRequest struct {
	BusinessProfileID string `json:"businessProfileId"`
}

func (s *Server) handleOpenBusinessRoom(w http.ResponseWriter, r *http.Request) {
	var in businessRoomRequest
	if err := decode(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	room, err := s.svc.Chat.OpenBusinessRoom(r.Context(), userIDFromContext(r.Context()), in.BusinessProfileID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, room)
}

// handlePaymentEvent is the HTTP twin of the Kafka payment consumer.
func (s *Server) handlePaymentEvent(w http.ResponseWriter, r *http.Request) {
	var evt models.PaymentEvent
	if err := decode(r, &evt); err != nil {
		s.writeError(w, r, err)
		return
	}
	err := s.svc.Proposals.HandlePaymentEvent(r.Context(), evt)
	result := ingest.Classify(err)
	observability.ConsumerMessages.WithLabelValues(result).Inc()
	switch result {
	case "handled":
		writeJSON(w, http.StatusAccepted, map[string]string{"result": result})
	case "duplicate":
		writeJSON(w, http.StatusOK, map[string]string{"result": result})
	default:
		s.writeError(w, r, err)
	}
}
