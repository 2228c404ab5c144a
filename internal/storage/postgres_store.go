package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/example/court-matching/internal/models"
)

//go:embed migrations/*.sql
var migrations embed.FS

type PostgresStore struct {
	db *sqlx.DB
}

var _ Store = (*PostgresStore)(nil)

func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) Close() error { return p.db.Close() }

func (p *PostgresStore) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

// Migrate applies the embedded schema. Statements are idempotent.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	entries, err := migrations.ReadDir("migrations")
	if err != nil {
		return err
	}
	for _, e := range entries {
		b, err := migrations.ReadFile("migrations/" + e.Name())
		if err != nil {
			return err
		}
		if _, err := p.db.ExecContext(ctx, string(b)); err != nil {
			return fmt.Errorf("migration %s: %w", e.Name(), err)
		}
	}
	return nil
}

// jsonb stores any value as a JSONB column.
type jsonb[T any] struct{ V T }

func (j jsonb[T]) Value() (driver.Value, error) {
	b, err := json.Marshal(j.V)
	if err != nil {
		return nil, err
	}
	if string(b) == "null" {
		return nil, nil
	}
	return b, nil
}

func (j *jsonb[T]) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, &j.V)
	case string:
		return json.Unmarshal([]byte(v), &j.V)
	}
	return fmt.Errorf("jsonb: unsupported source %T", src)
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (p *PostgresStore) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() // no-op after commit
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// profiles

type profileRow struct {
	UserID           string                                 `db:"user_id"`
	Sports           pq.StringArray                         `db:"sports"`
	SkillLevel       int                                    `db:"skill_level"`
	Lat              float64                                `db:"lat"`
	Lon              float64                                `db:"lon"`
	SearchRadiusKm   float64                                `db:"search_radius_km"`
	Gender           string                                 `db:"gender"`
	GenderPreference string                                 `db:"gender_preference"`
	Age              int                                    `db:"age"`
	AgeMin           int                                    `db:"age_min"`
	AgeMax           int                                    `db:"age_max"`
	Availability     jsonb[[]models.AvailabilityWindow]     `db:"availability"`
	Active           bool                                   `db:"active"`
	LastActiveAt     time.Time                              `db:"last_active_at"`
	CreatedAt        time.Time                              `db:"created_at"`
	UpdatedAt        time.Time                              `db:"updated_at"`
}

const profileCols = `user_id, sports, skill_level, lat, lon, search_radius_km, gender, gender_preference,
	age, age_min, age_max, availability, active, last_active_at, created_at, updated_at`

func (r *profileRow) model() *models.MatchProfile {
	return &models.MatchProfile{
		UserID:           r.UserID,
		Sports:           []string(r.Sports),
		SkillLevel:       models.SkillLevel(r.SkillLevel),
		Location:         models.Coord{Lat: r.Lat, Lon: r.Lon},
		SearchRadiusKm:   r.SearchRadiusKm,
		Gender:           models.Gender(r.Gender),
		GenderPreference: models.Gender(r.GenderPreference),
		Age:              r.Age,
		AgeRange:         models.AgeRange{Min: r.AgeMin, Max: r.AgeMax},
		Availability:     r.Availability.V,
		Active:           r.Active,
		LastActiveAt:     r.LastActiveAt,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}
}

func (p *PostgresStore) UpsertProfile(ctx context.Context, m *models.MatchProfile) error {
	row := p.db.QueryRowxContext(ctx, `
		INSERT INTO match_profiles (`+profileCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
		ON CONFLICT (user_id) DO UPDATE SET
			sports = EXCLUDED.sports, skill_level = EXCLUDED.skill_level,
			lat = EXCLUDED.lat, lon = EXCLUDED.lon, search_radius_km = EXCLUDED.search_radius_km,
			gender = EXCLUDED.gender, gender_preference = EXCLUDED.gender_preference,
			age = EXCLUDED.age, age_min = EXCLUDED.age_min, age_max = EXCLUDED.age_max,
			availability = EXCLUDED.availability, active = EXCLUDED.active,
			last_active_at = EXCLUDED.last_active_at, updated_at = EXCLUDED.updated_at
		RETURNING created_at`,
		m.UserID, pq.StringArray(m.Sports), int(m.SkillLevel), m.Location.Lat, m.Location.Lon, m.SearchRadiusKm,
		string(m.Gender), string(m.GenderPreference), m.Age, m.AgeRange.Min, m.AgeRange.Max,
		jsonb[[]models.AvailabilityWindow]{V: m.Availability}, m.Active, m.LastActiveAt, m.CreatedAt, m.UpdatedAt)
	return row.Scan(&m.CreatedAt)
}

func (p *PostgresStore) GetProfile(ctx context.Context, userID string) (*models.MatchProfile, error) {
	var r profileRow
	if err := p.db.GetContext(ctx, &r, `SELECT `+profileCols+` FROM match_profiles WHERE user_id = $1`, userID); err != nil {
		return nil, notFound(err)
	}
	return r.model(), nil
}

func (p *PostgresStore) GetProfiles(ctx context.Context, userIDs []string) (map[string]*models.MatchProfile, error) {
	var rows []profileRow
	if err := p.db.SelectContext(ctx, &rows, `SELECT `+profileCols+` FROM match_profiles WHERE user_id = ANY($1)`, pq.Array(userIDs)); err != nil {
		return nil, err
	}
	out := make(map[string]*models.MatchProfile, len(rows))
	for i := range rows {
		out[rows[i].UserID] = rows[i].model()
	}
	return out, nil
}

func (p *PostgresStore) TouchProfile(ctx context.Context, userID string) error {
	res, err := p.db.ExecContext(ctx, `UPDATE match_profiles SET last_active_at = $1 WHERE user_id = $2`, time.Now().UTC(), userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// swipes

const swipeCols = `id, actor_id, target_id, sport, action, created_at`

func (p *PostgresStore) InsertSwipe(ctx context.Context, s *models.Swipe) error {
	_, err := p.db.NamedExecContext(ctx, `INSERT INTO swipes (`+swipeCols+`)
		VALUES (:id, :actor_id, :target_id, :sport, :action, :created_at)`, s)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

func (p *PostgresStore) GetSwipe(ctx context.Context, actorID, targetID, sport string) (*models.Swipe, error) {
	var s models.Swipe
	err := p.db.GetContext(ctx, &s, `SELECT `+swipeCols+` FROM swipes WHERE actor_id = $1 AND target_id = $2 AND sport = $3`, actorID, targetID, sport)
	if err != nil {
		return nil, notFound(err)
	}
	return &s, nil
}

func (p *PostgresStore) SwipedTargets(ctx context.Context, actorID string, sports []string) ([]string, error) {
	var out []string
	err := p.db.SelectContext(ctx, &out, `SELECT DISTINCT target_id FROM swipes WHERE actor_id = $1 AND sport = ANY($2)`, actorID, pq.Array(sports))
	return out, err
}

func (p *PostgresStore) ListSwipes(ctx context.Context, actorID, sport string) ([]*models.Swipe, error) {
	var out []*models.Swipe
	err := p.db.SelectContext(ctx, &out, `SELECT `+swipeCols+` FROM swipes
		WHERE actor_id = $1 AND ($2 = '' OR sport = $2) ORDER BY created_at DESC`, actorID, sport)
	return out, err
}

// matches

type matchRow struct {
	ID                string                  `db:"id"`
	User1ID           string                  `db:"user1_id"`
	User2ID           string                  `db:"user2_id"`
	Sport             string                  `db:"sport"`
	Status            string                  `db:"status"`
	ChatRoomID        string                  `db:"chat_room_id"`
	Schedule          jsonb[*models.Schedule] `db:"schedule"`
	UnmatchedByUser1  bool                    `db:"unmatched_by_user1"`
	UnmatchedByUser2  bool                    `db:"unmatched_by_user2"`
	MatchedAt         time.Time               `db:"matched_at"`
	LastInteractionAt time.Time               `db:"last_interaction_at"`
}

const matchCols = `id, user1_id, user2_id, sport, status, chat_room_id, schedule,
	unmatched_by_user1, unmatched_by_user2, matched_at, last_interaction_at`

func (r *matchRow) model() *models.Match {
	return &models.Match{
		ID: r.ID, User1ID: r.User1ID, User2ID: r.User2ID, Sport: r.Sport,
		Status: models.MatchStatus(r.Status), ChatRoomID: r.ChatRoomID, Schedule: r.Schedule.V,
		IsUnmatchedByUser1: r.UnmatchedByUser1, IsUnmatchedByUser2: r.UnmatchedByUser2,
		MatchedAt: r.MatchedAt, LastInteractionAt: r.LastInteractionAt,
	}
}

func (p *PostgresStore) InsertMatch(ctx context.Context, m *models.Match) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO matches (`+matchCols+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		m.ID, m.User1ID, m.User2ID, m.Sport, string(m.Status), m.ChatRoomID, jsonb[*models.Schedule]{V: m.Schedule},
		m.IsUnmatchedByUser1, m.IsUnmatchedByUser2, m.MatchedAt, m.LastInteractionAt)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

func (p *PostgresStore) GetMatch(ctx context.Context, id string) (*models.Match, error) {
	var r matchRow
	if err := p.db.GetContext(ctx, &r, `SELECT `+matchCols+` FROM matches WHERE id = $1`, id); err != nil {
		return nil, notFound(err)
	}
	return r.model(), nil
}

func (p *PostgresStore) FindMatch(ctx context.Context, userA, userB, sport string) (*models.Match, error) {
	lo, hi := models.PairKey(userA, userB)
	var r matchRow
	err := p.db.GetContext(ctx, &r, `SELECT `+matchCols+` FROM matches
		WHERE LEAST(user1_id, user2_id) = $1 AND GREATEST(user1_id, user2_id) = $2 AND sport = $3`, lo, hi, sport)
	if err != nil {
		return nil, notFound(err)
	}
	return r.model(), nil
}

func (p *PostgresStore) ListMatches(ctx context.Context, userID string, status models.MatchStatus) ([]*models.Match, error) {
	var rows []matchRow
	err := p.db.SelectContext(ctx, &rows, `SELECT `+matchCols+` FROM matches
		WHERE (user1_id = $1 OR user2_id = $1) AND ($2 = '' OR status = $2)
		ORDER BY last_interaction_at DESC`, userID, string(status))
	if err != nil {
		return nil, err
	}
	out := make([]*models.Match, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].model())
	}
	return out, nil
}

func (p *PostgresStore) UpdateMatch(ctx context.Context, id string, fn func(*models.Match) error) (*models.Match, error) {
	var out *models.Match
	err := p.withTx(ctx, func(tx *sqlx.Tx) error {
		var r matchRow
		if err := tx.GetContext(ctx, &r, `SELECT `+matchCols+` FROM matches WHERE id = $1 FOR UPDATE`, id); err != nil {
			return notFound(err)
		}
		m := r.model()
		if err := fn(m); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `UPDATE matches SET status = $1, chat_room_id = $2, schedule = $3,
			unmatched_by_user1 = $4, unmatched_by_user2 = $5, last_interaction_at = $6 WHERE id = $7`,
			string(m.Status), m.ChatRoomID, jsonb[*models.Schedule]{V: m.Schedule},
			m.IsUnmatchedByUser1, m.IsUnmatchedByUser2, m.LastInteractionAt, id)
		out = m
		return err
	})
	return out, err
}

func (p *PostgresStore) UnmatchedCounterparts(ctx context.Context, userID string) ([]string, error) {
	var out []string
	err := p.db.SelectContext(ctx, &out, `SELECT DISTINCT CASE WHEN user1_id = $1 THEN user2_id ELSE user1_id END
		FROM matches WHERE (user1_id = $1 OR user2_id = $1) AND (unmatched_by_user1 OR unmatched_by_user2)`, userID)
	return out, err
}

func (p *PostgresStore) PairUnmatched(ctx context.Context, userA, userB string) (bool, error) {
	lo, hi := models.PairKey(userA, userB)
	var exists bool
	err := p.db.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM matches
		WHERE LEAST(user1_id, user2_id) = $1 AND GREATEST(user1_id, user2_id) = $2
		AND (unmatched_by_user1 OR unmatched_by_user2))`, lo, hi)
	return exists, err
}

// chat

type roomRow struct {
	ID                string       `db:"id"`
	Kind              string       `db:"kind"`
	MatchID           string       `db:"match_id"`
	User1ID           string       `db:"user1_id"`
	User2ID           string       `db:"user2_id"`
	CustomerID        string       `db:"customer_id"`
	BusinessProfileID string       `db:"business_profile_id"`
	LastSeq           int64        `db:"last_seq"`
	LastMessageAt     sql.NullTime `db:"last_message_at"`
	LastMessageBy     string       `db:"last_message_by"`
	HasUnread         bool         `db:"has_unread"`
	CreatedAt         time.Time    `db:"created_at"`
}

const roomCols = `id, kind, match_id, user1_id, user2_id, customer_id, business_profile_id,
	last_seq, last_message_at, last_message_by, has_unread, created_at`

func (r *roomRow) model() *models.Room {
	room := &models.Room{
		ID: r.ID, Kind: models.RoomKind(r.Kind), LastSeq: r.LastSeq, LastMessageBy: r.LastMessageBy,
		HasUnread: r.HasUnread, CreatedAt: r.CreatedAt,
	}
	if r.LastMessageAt.Valid {
		room.LastMessageAt = r.LastMessageAt.Time
	}
	switch room.Kind {
	case models.RoomMatch:
		room.Match = &models.MatchRoom{MatchID: r.MatchID, User1ID: r.User1ID, User2ID: r.User2ID}
	case models.RoomBusiness:
		room.Business = &models.BusinessRoom{CustomerID: r.CustomerID, BusinessProfileID: r.BusinessProfileID}
	}
	return room
}

func (p *PostgresStore) CreateRoom(ctx context.Context, r *models.Room) error {
	row := roomRow{ID: r.ID, Kind: string(r.Kind), CreatedAt: r.CreatedAt}
	if r.Match != nil {
		row.MatchID, row.User1ID, row.User2ID = r.Match.MatchID, r.Match.User1ID, r.Match.User2ID
	}
	if r.Business != nil {
		row.CustomerID, row.BusinessProfileID = r.Business.CustomerID, r.Business.BusinessProfileID
	}
	_, err := p.db.NamedExecContext(ctx, `INSERT INTO chat_rooms
		(id, kind, match_id, user1_id, user2_id, customer_id, business_profile_id, created_at)
		VALUES (:id, :kind, :match_id, :user1_id, :user2_id, :customer_id, :business_profile_id, :created_at)`, row)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

func (p *PostgresStore) GetRoom(ctx context.Context, id string) (*models.Room, error) {
	var r roomRow
	if err := p.db.GetContext(ctx, &r, `SELECT `+roomCols+` FROM chat_rooms WHERE id = $1`, id); err != nil {
		return nil, notFound(err)
	}
	return r.model(), nil
}

type messageRow struct {
	ID          string                     `db:"id"`
	RoomID      string                     `db:"room_id"`
	Seq         int64                      `db:"seq"`
	SenderID    string                     `db:"sender_id"`
	Type        string                     `db:"type"`
	Body        []byte                     `db:"body"`
	Attachments jsonb[[]models.Attachment] `db:"attachments"`
	IsRead      bool                       `db:"is_read"`
	CreatedAt   time.Time                  `db:"created_at"`
}

func (r *messageRow) model() (*models.Message, error) {
	body, err := models.DecodeBody(models.MessageType(r.Type), r.Body)
	if err != nil {
		return nil, err
	}
	return &models.Message{
		ID: r.ID, RoomID: r.RoomID, Seq: r.Seq, SenderID: r.SenderID, Type: models.MessageType(r.Type),
		Body: body, Attachments: r.Attachments.V, IsRead: r.IsRead, CreatedAt: r.CreatedAt,
	}, nil
}

func (p *PostgresStore) AppendMessage(ctx context.Context, m *models.Message) (*models.Room, error) {
	body, err := json.Marshal(m.Body)
	if err != nil {
		return nil, err
	}
	var out *models.Room
	err = p.withTx(ctx, func(tx *sqlx.Tx) error {
		var r roomRow
		if err := tx.GetContext(ctx, &r, `SELECT `+roomCols+` FROM chat_rooms WHERE id = $1 FOR UPDATE`, m.RoomID); err != nil {
			return notFound(err)
		}
		var last time.Time
		if r.LastMessageAt.Valid {
			last = r.LastMessageAt.Time
		}
		m.Seq = r.LastSeq + 1
		m.CreatedAt = monotonic(m.CreatedAt, last)
		m.IsRead = false
		if _, err := tx.ExecContext(ctx, `INSERT INTO chat_messages
			(id, room_id, seq, sender_id, type, body, attachments, is_read, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,FALSE,$8)`,
			m.ID, m.RoomID, m.Seq, m.SenderID, string(m.Type), body,
			jsonb[[]models.Attachment]{V: nonNilAttachments(m.Attachments)}, m.CreatedAt); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE chat_rooms SET last_seq = $1, last_message_at = $2,
			last_message_by = $3, has_unread = TRUE WHERE id = $4`, m.Seq, m.CreatedAt, m.SenderID, m.RoomID); err != nil {
			return err
		}
		r.LastSeq = m.Seq
		r.LastMessageAt = sql.NullTime{Time: m.CreatedAt, Valid: true}
		r.LastMessageBy = m.SenderID
		r.HasUnread = true
		out = r.model()
		return nil
	})
	return out, err
}

func (p *PostgresStore) ListMessages(ctx context.Context, roomID string, afterSeq int64, limit int) ([]*models.Message, error) {
	if limit <= 0 {
		limit = 1000
	}
	var rows []messageRow
	err := p.db.SelectContext(ctx, &rows, `SELECT id, room_id, seq, sender_id, type, body, attachments, is_read, created_at
		FROM chat_messages WHERE room_id = $1 AND seq > $2 ORDER BY seq LIMIT $3`, roomID, afterSeq, limit)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		if _, err := p.GetRoom(ctx, roomID); err != nil {
			return nil, err
		}
	}
	out := make([]*models.Message, 0, len(rows))
	for i := range rows {
		m, err := rows[i].model()
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func (p *PostgresStore) MarkRead(ctx context.Context, roomID, userID string) (int, *models.Room, error) {
	var (
		n   int64
		out *models.Room
	)
	err := p.withTx(ctx, func(tx *sqlx.Tx) error {
		var r roomRow
		if err := tx.GetContext(ctx, &r, `SELECT `+roomCols+` FROM chat_rooms WHERE id = $1 FOR UPDATE`, roomID); err != nil {
			return notFound(err)
		}
		res, err := tx.ExecContext(ctx, `UPDATE chat_messages SET is_read = TRUE
			WHERE room_id = $1 AND sender_id <> $2 AND NOT is_read`, roomID, userID)
		if err != nil {
			return err
		}
		n, _ = res.RowsAffected()
		if r.HasUnread && r.LastMessageBy != userID {
			if _, err := tx.ExecContext(ctx, `UPDATE chat_rooms SET has_unread = FALSE WHERE id = $1`, roomID); err != nil {
				return err
			}
			r.HasUnread = false
		}
		out = r.model()
		return nil
	})
	return int(n), out, err
}

func nonNilAttachments(a []models.Attachment) []models.Attachment {
	if a == nil {
		return []models.Attachment{}
	}
	return a
}

// proposals

type proposalRow struct {
	BookingID   string                 `db:"booking_id"`
	MatchID     string                 `db:"match_id"`
	ProposerID  string                 `db:"proposer_id"`
	ReceiverID  string                 `db:"receiver_id"`
	TotalAmount int64                  `db:"total_amount"`
	ShareAmount int64                  `db:"share_amount"`
	Currency    string                 `db:"currency"`
	Proposer    jsonb[models.Share]    `db:"proposer_share"`
	Receiver    jsonb[models.Share]    `db:"receiver_share"`
	Status      string                 `db:"status"`
	Slot        jsonb[models.Schedule] `db:"slot"`
	Note        string                 `db:"note"`
	CreatedAt   time.Time              `db:"created_at"`
	UpdatedAt   time.Time              `db:"updated_at"`
}

const proposalCols = `booking_id, match_id, proposer_id, receiver_id, total_amount, share_amount, currency,
	proposer_share, receiver_share, status, slot, note, created_at, updated_at`

func (r *proposalRow) model() *models.Proposal {
	return &models.Proposal{
		BookingID: r.BookingID, MatchID: r.MatchID, ProposerID: r.ProposerID, ReceiverID: r.ReceiverID,
		TotalAmount: r.TotalAmount, ShareAmount: r.ShareAmount, Currency: r.Currency,
		Proposer: r.Proposer.V, Receiver: r.Receiver.V, Status: models.ProposalStatus(r.Status),
		Slot: r.Slot.V, Note: r.Note, CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt,
	}
}

func newProposalRow(p *models.Proposal) proposalRow {
	return proposalRow{
		BookingID: p.BookingID, MatchID: p.MatchID, ProposerID: p.ProposerID, ReceiverID: p.ReceiverID,
		TotalAmount: p.TotalAmount, ShareAmount: p.ShareAmount, Currency: p.Currency,
		Proposer: jsonb[models.Share]{V: p.Proposer}, Receiver: jsonb[models.Share]{V: p.Receiver},
		Status: string(p.Status), Slot: jsonb[models.Schedule]{V: p.Slot}, Note: p.Note,
		CreatedAt: p.CreatedAt, UpdatedAt: p.UpdatedAt,
	}
}

func (p *PostgresStore) InsertProposal(ctx context.Context, pr *models.Proposal) error {
	_, err := p.db.NamedExecContext(ctx, `INSERT INTO match_proposals (`+proposalCols+`)
		VALUES (:booking_id, :match_id, :proposer_id, :receiver_id, :total_amount, :share_amount, :currency,
		:proposer_share, :receiver_share, :status, :slot, :note, :created_at, :updated_at)`, newProposalRow(pr))
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

func (p *PostgresStore) GetProposal(ctx context.Context, bookingID string) (*models.Proposal, error) {
	var r proposalRow
	if err := p.db.GetContext(ctx, &r, `SELECT `+proposalCols+` FROM match_proposals WHERE booking_id = $1`, bookingID); err != nil {
		return nil, notFound(err)
	}
	return r.model(), nil
}

func (p *PostgresStore) ListProposals(ctx context.Context, matchID string) ([]*models.Proposal, error) {
	var rows []proposalRow
	if err := p.db.SelectContext(ctx, &rows, `SELECT `+proposalCols+` FROM match_proposals
		WHERE match_id = $1 ORDER BY created_at DESC`, matchID); err != nil {
		return nil, err
	}
	out := make([]*models.Proposal, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].model())
	}
	return out, nil
}

func (p *PostgresStore) TransitionProposal(ctx context.Context, bookingID string, from []models.ProposalStatus, fn func(*models.Proposal) error) (*models.Proposal, error) {
	var out *models.Proposal
	err := p.withTx(ctx, func(tx *sqlx.Tx) error {
		var r proposalRow
		if err := tx.GetContext(ctx, &r, `SELECT `+proposalCols+` FROM match_proposals WHERE booking_id = $1 FOR UPDATE`, bookingID); err != nil {
			return notFound(err)
		}
		pr := r.model()
		if !statusIn(pr.Status, from) {
			out = pr
			return ErrStale
		}
		if err := fn(pr); err != nil {
			return err
		}
		pr.UpdatedAt = time.Now().UTC()
		row := newProposalRow(pr)
		if _, err := tx.NamedExecContext(ctx, `UPDATE match_proposals SET proposer_share = :proposer_share,
			receiver_share = :receiver_share, status = :status, slot = :slot, note = :note, updated_at = :updated_at
			WHERE booking_id = :booking_id`, row); err != nil {
			if isUniqueViolation(err) {
				return ErrDuplicate
			}
			return err
		}
		out = pr
		return nil
	})
	if errors.Is(err, ErrStale) {
		return out, ErrStale
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}
