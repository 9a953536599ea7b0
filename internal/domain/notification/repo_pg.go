package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hms/hms/internal/platform/db"
)

func notFound(err error) error {
	if db.IsNoRows(err) {
		return ErrNotFound
	}
	return err
}

// =========== Log Repository ===========

type logRepoPG struct{ pool *pgxpool.Pool }

func NewLogRepoPG(pool *pgxpool.Pool) LogRepository { return &logRepoPG{pool: pool} }

func (r *logRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

const logCols = `id, user_id, channel, recipient, template_name, subject, body, provider,
	status, error, related_type, related_id, read_at, created_at`

func scanLog(row pgx.Row) (*Log, error) {
	var l Log
	err := row.Scan(&l.ID, &l.UserID, &l.Channel, &l.Recipient, &l.TemplateName, &l.Subject, &l.Body, &l.Provider,
		&l.Status, &l.Error, &l.RelatedType, &l.RelatedID, &l.ReadAt, &l.CreatedAt)
	return &l, err
}

func (r *logRepoPG) Create(ctx context.Context, l *Log) error {
	l.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO notification_logs (id, user_id, channel, recipient, template_name, subject, body, provider,
			status, error, related_type, related_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		RETURNING created_at`,
		l.ID, l.UserID, l.Channel, l.Recipient, l.TemplateName, l.Subject, l.Body, l.Provider,
		l.Status, l.Error, l.RelatedType, l.RelatedID).Scan(&l.CreatedAt)
}

func (r *logRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Log, error) {
	l, err := scanLog(r.conn(ctx).QueryRow(ctx, `SELECT `+logCols+` FROM notification_logs WHERE id = $1`, id))
	return l, notFound(err)
}

func (r *logRepoPG) List(ctx context.Context, f LogFilter, limit, offset int) ([]*Log, int, error) {
	where := ` WHERE 1=1`
	var args []interface{}
	idx := 1
	if f.UserID != nil {
		where += fmt.Sprintf(` AND user_id = $%d`, idx)
		args = append(args, *f.UserID)
		idx++
	}
	if f.Channel != "" {
		where += fmt.Sprintf(` AND channel = $%d`, idx)
		args = append(args, f.Channel)
		idx++
	}
	if f.Status != "" {
		where += fmt.Sprintf(` AND status = $%d`, idx)
		args = append(args, f.Status)
		idx++
	}
	if f.UnreadOnly {
		where += ` AND read_at IS NULL`
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM notification_logs`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + logCols + ` FROM notification_logs` + where +
		fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Log
	for rows.Next() {
		l, err := scanLog(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, l)
	}
	return items, total, rows.Err()
}

func (r *logRepoPG) MarkRead(ctx context.Context, id, userID uuid.UUID, at time.Time) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE notification_logs SET read_at = COALESCE(read_at, $3)
		WHERE id = $1 AND user_id = $2`, id, userID, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *logRepoPG) MarkAllRead(ctx context.Context, userID uuid.UUID, at time.Time) (int, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE notification_logs SET read_at = $2
		WHERE user_id = $1 AND channel = 'in_app' AND read_at IS NULL`, userID, at)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (r *logRepoPG) CountUnread(ctx context.Context, userID uuid.UUID) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*) FROM notification_logs
		WHERE user_id = $1 AND channel = 'in_app' AND status = 'sent' AND read_at IS NULL`, userID).Scan(&n)
	return n, err
}

func (r *logRepoPG) CountByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT status, COUNT(*) FROM notification_logs GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[status] = n
	}
	return out, rows.Err()
}

// =========== Template Repository ===========

type templateRepoPG struct{ pool *pgxpool.Pool }

func NewTemplateRepoPG(pool *pgxpool.Pool) TemplateRepository { return &templateRepoPG{pool: pool} }

func (r *templateRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

const tplCols = `id, name, channel, subject, body, is_active, created_at, updated_at`

func scanTemplate(row pgx.Row) (*Template, error) {
	var t Template
	err := row.Scan(&t.ID, &t.Name, &t.Channel, &t.Subject, &t.Body, &t.IsActive, &t.CreatedAt, &t.UpdatedAt)
	return &t, err
}

func (r *templateRepoPG) Create(ctx context.Context, t *Template) error {
	t.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO notification_templates (id, name, channel, subject, body, is_active)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING created_at, updated_at`,
		t.ID, t.Name, t.Channel, t.Subject, t.Body, t.IsActive).Scan(&t.CreatedAt, &t.UpdatedAt)
}

func (r *templateRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Template, error) {
	t, err := scanTemplate(r.conn(ctx).QueryRow(ctx, `SELECT `+tplCols+` FROM notification_templates WHERE id = $1`, id))
	return t, notFound(err)
}

func (r *templateRepoPG) GetByName(ctx context.Context, name string) (*Template, error) {
	t, err := scanTemplate(r.conn(ctx).QueryRow(ctx, `SELECT `+tplCols+` FROM notification_templates WHERE name = $1`, name))
	return t, notFound(err)
}

func (r *templateRepoPG) Update(ctx context.Context, t *Template) error {
	return notFound(r.conn(ctx).QueryRow(ctx, `
		UPDATE notification_templates SET channel=$2, subject=$3, body=$4, is_active=$5, updated_at=NOW()
		WHERE id = $1
		RETURNING name, created_at, updated_at`,
		t.ID, t.Channel, t.Subject, t.Body, t.IsActive).Scan(&t.Name, &t.CreatedAt, &t.UpdatedAt))
}

func (r *templateRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM notification_templates WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *templateRepoPG) List(ctx context.Context, limit, offset int) ([]*Template, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM notification_templates`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+tplCols+` FROM notification_templates ORDER BY name LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, t)
	}
	return items, total, rows.Err()
}

// =========== Scheduled Repository ===========

type scheduledRepoPG struct{ pool *pgxpool.Pool }

func NewScheduledRepoPG(pool *pgxpool.Pool) ScheduledRepository { return &scheduledRepoPG{pool: pool} }

func (r *scheduledRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

const schedCols = `id, user_id, channel, template_name, subject, body, data, category, send_at, status,
	attempts, last_error, related_type, related_id, sent_at, created_at, updated_at`

func scanScheduled(row pgx.Row) (*Scheduled, error) {
	var s Scheduled
	var data []byte
	err := row.Scan(&s.ID, &s.UserID, &s.Channel, &s.TemplateName, &s.Subject, &s.Body, &data, &s.Category, &s.SendAt, &s.Status,
		&s.Attempts, &s.LastError, &s.RelatedType, &s.RelatedID, &s.SentAt, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return &s, err
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &s.Data); err != nil {
			return &s, fmt.Errorf("decode scheduled data: %w", err)
		}
	}
	return &s, nil
}

func (r *scheduledRepoPG) Create(ctx context.Context, s *Scheduled) error {
	s.ID = uuid.New()
	data, err := json.Marshal(s.Data)
	if err != nil {
		return err
	}
	if s.Data == nil {
		data = []byte(`{}`)
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO scheduled_notifications (id, user_id, channel, template_name, subject, body, data, category,
			send_at, status, attempts, related_type, related_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		RETURNING created_at, updated_at`,
		s.ID, s.UserID, s.Channel, s.TemplateName, s.Subject, s.Body, data, s.Category,
		s.SendAt, s.Status, s.Attempts, s.RelatedType, s.RelatedID).Scan(&s.CreatedAt, &s.UpdatedAt)
}

func (r *scheduledRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Scheduled, error) {
	s, err := scanScheduled(r.conn(ctx).QueryRow(ctx, `SELECT `+schedCols+` FROM scheduled_notifications WHERE id = $1`, id))
	return s, notFound(err)
}

// ClaimLease is how long a claimed row stays hidden from other runs. A run
// that dies mid-batch releases its rows once the lease expires.
const ClaimLease = 10 * time.Minute

func (r *scheduledRepoPG) ClaimDue(ctx context.Context, now time.Time, limit int) ([]*Scheduled, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		UPDATE scheduled_notifications
		SET status = 'processing', claimed_at = $1, attempts = attempts + 1, updated_at = NOW()
		WHERE id IN (
			SELECT id FROM scheduled_notifications
			WHERE send_at <= $1
			  AND (status = 'pending' OR (status = 'processing' AND claimed_at < $3))
			ORDER BY send_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+schedCols, now, limit, now.Add(-ClaimLease))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Scheduled
	for rows.Next() {
		s, err := scanScheduled(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, s)
	}
	return items, rows.Err()
}

func (r *scheduledRepoPG) Update(ctx context.Context, s *Scheduled) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE scheduled_notifications SET status=$2, attempts=$3, last_error=$4, sent_at=$5, send_at=$6, updated_at=NOW()
		WHERE id = $1`,
		s.ID, s.Status, s.Attempts, s.LastError, s.SentAt, s.SendAt)
	return err
}

func (r *scheduledRepoPG) CancelByRelated(ctx context.Context, relatedType string, relatedID uuid.UUID) (int, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE scheduled_notifications SET status = 'cancelled', updated_at = NOW()
		WHERE related_type = $1 AND related_id = $2 AND status = 'pending'`, relatedType, relatedID)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (r *scheduledRepoPG) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Scheduled, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM scheduled_notifications WHERE user_id = $1`, userID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+schedCols+` FROM scheduled_notifications WHERE user_id = $1 ORDER BY send_at DESC LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Scheduled
	for rows.Next() {
		s, err := scanScheduled(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, s)
	}
	return items, total, rows.Err()
}

// =========== Preference Repository ===========

type preferenceRepoPG struct{ pool *pgxpool.Pool }

func NewPreferenceRepoPG(pool *pgxpool.Pool) PreferenceRepository { return &preferenceRepoPG{pool: pool} }

func (r *preferenceRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

func (r *preferenceRepoPG) Get(ctx context.Context, userID uuid.UUID) (*Preference, error) {
	var p Preference
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT user_id, email_enabled, sms_enabled, in_app_enabled, appointment_reminders, lab_results, marketing, updated_at
		FROM notification_preferences WHERE user_id = $1`, userID).
		Scan(&p.UserID, &p.EmailEnabled, &p.SMSEnabled, &p.InAppEnabled, &p.AppointmentReminders, &p.LabResults, &p.Marketing, &p.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (r *preferenceRepoPG) Upsert(ctx context.Context, p *Preference) error {
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO notification_preferences (user_id, email_enabled, sms_enabled, in_app_enabled,
			appointment_reminders, lab_results, marketing)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (user_id) DO UPDATE SET
			email_enabled = EXCLUDED.email_enabled,
			sms_enabled = EXCLUDED.sms_enabled,
			in_app_enabled = EXCLUDED.in_app_enabled,
			appointment_reminders = EXCLUDED.appointment_reminders,
			lab_results = EXCLUDED.lab_results,
			marketing = EXCLUDED.marketing,
			updated_at = NOW()
		RETURNING updated_at`,
		p.UserID, p.EmailEnabled, p.SMSEnabled, p.InAppEnabled,
		p.AppointmentReminders, p.LabResults, p.Marketing).Scan(&p.UpdatedAt)
}
