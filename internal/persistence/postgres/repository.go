package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/wbgt/internal/clock"
	"example.com/wbgt/internal/domain"
	"example.com/wbgt/internal/outbox"
	"example.com/wbgt/internal/zone"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

const participantColumns = `id, conduct_id, name, role, phase, zone, start_time, end_time, cycle_start, most_stringent_zone, created_at, updated_at`

const conductColumns = `id, name, pin, status, last_activity_at, created_at`

const activityColumns = `id, conduct_id, username, action, zone, details, occurred_at`

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository provides Postgres-backed persistence for conducts, participants,
// the activity log and outbox events.
type Repository struct {
	pool   *pgxpool.Pool
	router outbox.Router
}

// NewRepository constructs a Repository whose outbox rows are routed by router.
func NewRepository(pool *pgxpool.Pool, router outbox.Router) *Repository {
	return &Repository{pool: pool, router: router}
}

// GetParticipant implements domain.ParticipantStore.
func (r *Repository) GetParticipant(ctx context.Context, id string) (*domain.Participant, error) {
	if !isUUID(id) {
		return nil, nil
	}
	row := r.pool.QueryRow(ctx, `SELECT `+participantColumns+` FROM participants WHERE id = $1`, id)
	return scanOptionalParticipant(row)
}

// FindParticipant implements domain.ParticipantStore.
func (r *Repository) FindParticipant(ctx context.Context, conductID, name string) (*domain.Participant, error) {
	if !isUUID(conductID) {
		return nil, nil
	}
	row := r.pool.QueryRow(ctx, `SELECT `+participantColumns+` FROM participants WHERE conduct_id = $1 AND name = $2`, conductID, name)
	return scanOptionalParticipant(row)
}

// ListParticipants implements domain.ParticipantStore.
func (r *Repository) ListParticipants(ctx context.Context, conductID string) ([]domain.Participant, error) {
	if !isUUID(conductID) {
		return []domain.Participant{}, nil
	}
	rows, err := r.pool.Query(ctx, `SELECT `+participantColumns+` FROM participants WHERE conduct_id = $1 ORDER BY name`, conductID)
	if err != nil {
		return nil, err
	}
	return collectParticipants(rows)
}

// ListParticipantsByPhase implements domain.ParticipantStore.
func (r *Repository) ListParticipantsByPhase(ctx context.Context, phases ...domain.Phase) ([]domain.Participant, error) {
	values := make([]string, len(phases))
	for i, phase := range phases {
		values[i] = string(phase)
	}
	rows, err := r.pool.Query(ctx, `SELECT `+participantColumns+` FROM participants WHERE phase = ANY($1) ORDER BY conduct_id, name`, values)
	if err != nil {
		return nil, err
	}
	return collectParticipants(rows)
}

// SaveParticipant implements domain.ParticipantStore.
func (r *Repository) SaveParticipant(ctx context.Context, p domain.Participant) error {
	return saveParticipant(ctx, r.pool, p)
}

// DeleteParticipant implements domain.ParticipantStore.
func (r *Repository) DeleteParticipant(ctx context.Context, id string) error {
	if !isUUID(id) {
		return nil
	}
	_, err := r.pool.Exec(ctx, `DELETE FROM participants WHERE id = $1`, id)
	return err
}

// GetConduct implements domain.ConductStore.
func (r *Repository) GetConduct(ctx context.Context, id string) (*domain.Conduct, error) {
	if !isUUID(id) {
		return nil, nil
	}
	row := r.pool.QueryRow(ctx, `SELECT `+conductColumns+` FROM conducts WHERE id = $1`, id)
	return scanOptionalConduct(row)
}

// GetConductByPIN implements domain.ConductStore.
func (r *Repository) GetConductByPIN(ctx context.Context, pin string) (*domain.Conduct, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+conductColumns+` FROM conducts WHERE pin = $1`, pin)
	return scanOptionalConduct(row)
}

// CreateConduct implements domain.ConductStore.
func (r *Repository) CreateConduct(ctx context.Context, c domain.Conduct) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO conducts (`+conductColumns+`) VALUES ($1,$2,$3,$4,$5,$6)`,
		c.ID, c.Name, c.PIN, string(c.Status), c.LastActivityAt, c.CreatedAt,
	)
	if pgCode(err) == pgUniqueViolation {
		return domain.ErrDuplicatePIN
	}
	return err
}

// UpdateConductStatus implements domain.ConductStore.
func (r *Repository) UpdateConductStatus(ctx context.Context, id string, status domain.ConductStatus, lastActivityAt time.Time) error {
	if !isUUID(id) {
		return domain.ErrConductNotFound
	}
	tag, err := r.pool.Exec(ctx,
		`UPDATE conducts SET status = $2, last_activity_at = $3 WHERE id = $1`,
		id, string(status), lastActivityAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrConductNotFound
	}
	return nil
}

// ListStaleConducts implements domain.ConductStore.
func (r *Repository) ListStaleConducts(ctx context.Context, before time.Time) ([]domain.Conduct, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+conductColumns+` FROM conducts WHERE status = 'active' AND last_activity_at < $1 ORDER BY last_activity_at`,
		before,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Conduct, 0)
	for rows.Next() {
		c, err := scanConduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// DeactivateIdle implements domain.ConductStore. The guard and the write are a
// single statement so a concurrent join or work start wins.
func (r *Repository) DeactivateIdle(ctx context.Context, id string, lastSeen time.Time) (bool, error) {
	if !isUUID(id) {
		return false, nil
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE conducts c SET status = 'inactive'
		WHERE c.id = $1
		  AND c.status = 'active'
		  AND c.last_activity_at <= $2
		  AND NOT EXISTS (
		      SELECT 1 FROM participants p
		      WHERE p.conduct_id = c.id AND p.phase IN ('working', 'resting')
		  )`,
		id, lastSeen,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// AppendActivity implements domain.AuditStore.
func (r *Repository) AppendActivity(ctx context.Context, entry domain.ActivityEntry, evts ...domain.Event) (err error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	if _, err = r.appendWithHistory(ctx, tx, entry, evts); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// ListActivity implements domain.AuditStore.
func (r *Repository) ListActivity(ctx context.Context, conductID string, before *domain.Cursor, limit int) ([]domain.ActivityEntry, error) {
	if !isUUID(conductID) {
		return []domain.ActivityEntry{}, nil
	}
	return listActivity(ctx, r.pool, conductID, before, limit)
}

// Enqueue implements domain.EventQueue.
func (r *Repository) Enqueue(ctx context.Context, evts ...domain.Event) error {
	msgs, err := r.router.RouteAll(evts...)
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		return nil
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := insertOutbox(ctx, tx, msgs); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Transition implements domain.Store. The participant row is held with
// SELECT ... FOR UPDATE until the row, its audit entry and the outbox rows
// commit together.
func (r *Repository) Transition(ctx context.Context, participantID string, fn domain.TransitionFunc) (*domain.Commit, error) {
	if !isUUID(participantID) {
		return nil, domain.ErrParticipantNotFound
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrStorage, err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `SELECT `+participantColumns+` FROM participants WHERE id = $1 FOR UPDATE`, participantID)
	current, err := scanOptionalParticipant(row)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrStorage, err)
	}
	if current == nil {
		return nil, domain.ErrParticipantNotFound
	}

	c, err := fn(*current)
	if err != nil {
		return nil, err
	}

	if err := r.writeCommit(ctx, tx, c); err != nil {
		return c, fmt.Errorf("%w: %v", domain.ErrStorage, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return c, fmt.Errorf("%w: %v", domain.ErrStorage, err)
	}
	return c, nil
}

func (r *Repository) writeCommit(ctx context.Context, tx pgx.Tx, c *domain.Commit) error {
	if err := saveParticipant(ctx, tx, c.Participant); err != nil {
		return err
	}
	if c.Entry == nil {
		msgs, err := r.router.RouteAll(c.Events...)
		if err != nil {
			return err
		}
		return insertOutbox(ctx, tx, msgs)
	}
	saved, err := r.appendWithHistory(ctx, tx, *c.Entry, c.Events)
	if err != nil {
		return err
	}
	*c.Entry = saved
	return nil
}

// appendWithHistory inserts entry and queues evts followed by the conduct's
// refreshed history.
func (r *Repository) appendWithHistory(ctx context.Context, tx pgx.Tx, entry domain.ActivityEntry, evts []domain.Event) (domain.ActivityEntry, error) {
	var id int64
	err := tx.QueryRow(ctx,
		`INSERT INTO activity_log (conduct_id, username, action, zone, details, occurred_at)
         VALUES ($1,$2,$3,$4,$5,$6)
         RETURNING id`,
		entry.ConductID, entry.Username, string(entry.Action), nullIfEmpty(string(entry.Zone)), entry.Details, entry.Timestamp,
	).Scan(&id)
	if err != nil {
		return entry, err
	}
	entry.ID = strconv.FormatInt(id, 10)

	history, err := listActivity(ctx, tx, entry.ConductID, nil, domain.HistoryWindow+1)
	if err != nil {
		return entry, err
	}

	all := append(append([]domain.Event(nil), evts...), domain.HistoryEvent(entry.ConductID, string(entry.Action), history))
	msgs, err := r.router.RouteAll(all...)
	if err != nil {
		return entry, err
	}
	return entry, insertOutbox(ctx, tx, msgs)
}

func saveParticipant(ctx context.Context, q querier, p domain.Participant) error {
	_, err := q.Exec(ctx,
		`INSERT INTO participants (`+participantColumns+`)
         VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
         ON CONFLICT (id) DO UPDATE SET
             name = EXCLUDED.name,
             role = EXCLUDED.role,
             phase = EXCLUDED.phase,
             zone = EXCLUDED.zone,
             start_time = EXCLUDED.start_time,
             end_time = EXCLUDED.end_time,
             cycle_start = EXCLUDED.cycle_start,
             most_stringent_zone = EXCLUDED.most_stringent_zone,
             updated_at = EXCLUDED.updated_at`,
		p.ID,
		p.ConductID,
		p.Name,
		string(p.Role),
		string(p.Phase),
		nullIfEmpty(string(p.Zone)),
		nullIfEmpty(p.StartTime.String()),
		nullIfEmpty(p.EndTime.String()),
		nullIfEmpty(p.CycleStart.String()),
		nullIfEmpty(string(p.MostStringentZone)),
		p.CreatedAt,
		p.UpdatedAt,
	)
	if pgCode(err) == pgForeignKeyViolation {
		return domain.ErrConductNotFound
	}
	return err
}

func listActivity(ctx context.Context, q querier, conductID string, before *domain.Cursor, limit int) ([]domain.ActivityEntry, error) {
	args := []any{conductID}
	query := `SELECT ` + activityColumns + ` FROM activity_log WHERE conduct_id = $1`

	if before != nil {
		id, err := strconv.ParseInt(before.ID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid cursor id %q: %w", before.ID, err)
		}
		query += ` AND (occurred_at, id) < ($2, $3)`
		args = append(args, before.Timestamp, id)
	}

	query += ` ORDER BY occurred_at DESC, id DESC`
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.ActivityEntry, 0)
	for rows.Next() {
		var (
			entry  domain.ActivityEntry
			id     int64
			action string
			z      *string
		)
		if err := rows.Scan(&id, &entry.ConductID, &entry.Username, &action, &z, &entry.Details, &entry.Timestamp); err != nil {
			return nil, err
		}
		entry.ID = strconv.FormatInt(id, 10)
		entry.Action = domain.Action(action)
		entry.Zone = zone.ID(deref(z))
		out = append(out, entry)
	}
	return out, rows.Err()
}

func insertOutbox(ctx context.Context, q querier, msgs []outbox.Message) error {
	const stmt = `INSERT INTO outbox (conduct_id, aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`

	for _, msg := range msgs {
		if _, err := q.Exec(ctx, stmt,
			msg.ConductID,
			msg.AggregateType,
			msg.AggregateID,
			msg.EventType,
			msg.Topic,
			msg.SchemaSubject,
			msg.PartitionKey,
			[]byte(msg.Payload),
		); err != nil {
			return err
		}
	}
	return nil
}

func scanOptionalParticipant(row pgx.Row) (*domain.Participant, error) {
	p, err := scanParticipant(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func collectParticipants(rows pgx.Rows) ([]domain.Participant, error) {
	defer rows.Close()

	out := make([]domain.Participant, 0)
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanParticipant(row pgx.Row) (domain.Participant, error) {
	var (
		p                                    domain.Participant
		role, phase                          string
		z, start, end, cycleStart, stringent *string
	)
	if err := row.Scan(&p.ID, &p.ConductID, &p.Name, &role, &phase, &z, &start, &end, &cycleStart, &stringent, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return domain.Participant{}, err
	}
	parsedPhase, err := domain.ParsePhase(phase)
	if err != nil {
		return domain.Participant{}, err
	}
	p.Role = domain.Role(role)
	p.Phase = parsedPhase
	p.Zone = zone.ID(deref(z))
	p.StartTime = clock.WallTime(deref(start))
	p.EndTime = clock.WallTime(deref(end))
	p.CycleStart = clock.WallTime(deref(cycleStart))
	p.MostStringentZone = zone.ID(deref(stringent))
	return p, nil
}

func scanOptionalConduct(row pgx.Row) (*domain.Conduct, error) {
	c, err := scanConduct(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func scanConduct(row pgx.Row) (domain.Conduct, error) {
	var (
		c      domain.Conduct
		status string
	)
	if err := row.Scan(&c.ID, &c.Name, &c.PIN, &status, &c.LastActivityAt, &c.CreatedAt); err != nil {
		return domain.Conduct{}, err
	}
	c.Status = domain.ConductStatus(status)
	return c, nil
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func isUUID(value string) bool {
	_, err := uuid.Parse(value)
	return err == nil
}

func nullIfEmpty(value string) interface{} {
	if value == "" {
		return nil
	}
	return value
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
