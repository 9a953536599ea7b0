package radiology

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hms/hms/internal/platform/db"
)

func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case db.IsNoRows(err):
		return ErrNotFound
	case db.IsUniqueViolation(err):
		return ErrConflict
	default:
		return err
	}
}

// -- Orders --

type orderRepoPG struct{ pool *pgxpool.Pool }

func NewOrderRepoPG(pool *pgxpool.Pool) OrderRepository { return &orderRepoPG{pool: pool} }

func (r *orderRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

const orderCols = `id, patient_id, doctor_id, modality, body_part, priority, clinical_indication, status,
	scheduled_at, created_at, updated_at`

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	err := row.Scan(&o.ID, &o.PatientID, &o.DoctorID, &o.Modality, &o.BodyPart, &o.Priority,
		&o.ClinicalIndication, &o.Status, &o.ScheduledAt, &o.CreatedAt, &o.UpdatedAt)
	return &o, err
}

func (r *orderRepoPG) Create(ctx context.Context, o *Order) error {
	o.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO radiology_orders (id, patient_id, doctor_id, modality, body_part, priority,
			clinical_indication, status, scheduled_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING created_at, updated_at`,
		o.ID, o.PatientID, o.DoctorID, o.Modality, o.BodyPart, o.Priority, o.ClinicalIndication, o.Status, o.ScheduledAt,
	).Scan(&o.CreatedAt, &o.UpdatedAt)
}

func (r *orderRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Order, error) {
	o, err := scanOrder(r.conn(ctx).QueryRow(ctx, `SELECT `+orderCols+` FROM radiology_orders WHERE id = $1`, id))
	if err != nil {
		return nil, mapErr(err)
	}
	return o, nil
}

func (r *orderRepoPG) Update(ctx context.Context, o *Order) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE radiology_orders SET modality=$2, body_part=$3, priority=$4, clinical_indication=$5, status=$6,
			scheduled_at=$7, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		o.ID, o.Modality, o.BodyPart, o.Priority, o.ClinicalIndication, o.Status, o.ScheduledAt,
	).Scan(&o.UpdatedAt)
	return mapErr(err)
}

func (r *orderRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM radiology_orders WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *orderRepoPG) List(ctx context.Context, f OrderFilter, limit, offset int) ([]*Order, int, error) {
	where := ` WHERE 1=1`
	var args []interface{}
	idx := 1
	if f.PatientID != nil {
		where += fmt.Sprintf(` AND patient_id = $%d`, idx)
		args = append(args, *f.PatientID)
		idx++
	}
	if f.DoctorID != nil {
		where += fmt.Sprintf(` AND doctor_id = $%d`, idx)
		args = append(args, *f.DoctorID)
		idx++
	}
	if f.Status != "" {
		where += fmt.Sprintf(` AND status = $%d`, idx)
		args = append(args, f.Status)
		idx++
	}
	if f.Modality != "" {
		where += fmt.Sprintf(` AND modality = $%d`, idx)
		args = append(args, f.Modality)
		idx++
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM radiology_orders`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + orderCols + ` FROM radiology_orders` + where +
		fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, o)
	}
	return items, total, rows.Err()
}

// -- Studies --

type studyRepoPG struct{ pool *pgxpool.Pool }

func NewStudyRepoPG(pool *pgxpool.Pool) StudyRepository { return &studyRepoPG{pool: pool} }

func (r *studyRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

const studyCols = `id, order_id, study_instance_uid, modality, description, started_at, series_count,
	instance_count, storage_key, created_at, updated_at`

func scanStudy(row pgx.Row) (*Study, error) {
	var s Study
	err := row.Scan(&s.ID, &s.OrderID, &s.StudyInstanceUID, &s.Modality, &s.Description, &s.StartedAt,
		&s.SeriesCount, &s.InstanceCount, &s.StorageKey, &s.CreatedAt, &s.UpdatedAt)
	return &s, err
}

func (r *studyRepoPG) Create(ctx context.Context, s *Study) error {
	s.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO imaging_studies (id, order_id, study_instance_uid, modality, description, started_at,
			series_count, instance_count, storage_key)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING created_at, updated_at`,
		s.ID, s.OrderID, s.StudyInstanceUID, s.Modality, s.Description, s.StartedAt,
		s.SeriesCount, s.InstanceCount, s.StorageKey,
	).Scan(&s.CreatedAt, &s.UpdatedAt)
	return mapErr(err)
}

func (r *studyRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Study, error) {
	s, err := scanStudy(r.conn(ctx).QueryRow(ctx, `SELECT `+studyCols+` FROM imaging_studies WHERE id = $1`, id))
	if err != nil {
		return nil, mapErr(err)
	}
	return s, nil
}

func (r *studyRepoPG) Update(ctx context.Context, s *Study) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE imaging_studies SET description=$2, started_at=$3, series_count=$4, instance_count=$5,
			storage_key=$6, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		s.ID, s.Description, s.StartedAt, s.SeriesCount, s.InstanceCount, s.StorageKey,
	).Scan(&s.UpdatedAt)
	return mapErr(err)
}

func (r *studyRepoPG) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]*Study, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+studyCols+` FROM imaging_studies WHERE order_id = $1 ORDER BY created_at`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Study
	for rows.Next() {
		s, err := scanStudy(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, s)
	}
	return items, rows.Err()
}

// -- Reports --

type reportRepoPG struct{ pool *pgxpool.Pool }

func NewReportRepoPG(pool *pgxpool.Pool) ReportRepository { return &reportRepoPG{pool: pool} }

func (r *reportRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

const reportCols = `id, order_id, study_id, findings, impression, rads_system, rads_category, rads_score,
	ai_summary, status, radiologist_id, verified_at, created_at, updated_at`

func scanReport(row pgx.Row) (*Report, error) {
	var rp Report
	err := row.Scan(&rp.ID, &rp.OrderID, &rp.StudyID, &rp.Findings, &rp.Impression, &rp.RADSSystem,
		&rp.RADSCategory, &rp.RADSScore, &rp.AISummary, &rp.Status, &rp.RadiologistID, &rp.VerifiedAt,
		&rp.CreatedAt, &rp.UpdatedAt)
	return &rp, err
}

func (r *reportRepoPG) Create(ctx context.Context, rp *Report) error {
	rp.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO radiology_reports (id, order_id, study_id, findings, impression, rads_system, rads_category,
			rads_score, ai_summary, status, radiologist_id, verified_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		RETURNING created_at, updated_at`,
		rp.ID, rp.OrderID, rp.StudyID, rp.Findings, rp.Impression, rp.RADSSystem, rp.RADSCategory,
		rp.RADSScore, rp.AISummary, rp.Status, rp.RadiologistID, rp.VerifiedAt,
	).Scan(&rp.CreatedAt, &rp.UpdatedAt)
	return mapErr(err)
}

func (r *reportRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Report, error) {
	rp, err := scanReport(r.conn(ctx).QueryRow(ctx, `SELECT `+reportCols+` FROM radiology_reports WHERE id = $1`, id))
	if err != nil {
		return nil, mapErr(err)
	}
	return rp, nil
}

func (r *reportRepoPG) Update(ctx context.Context, rp *Report) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE radiology_reports SET study_id=$2, findings=$3, impression=$4, rads_system=$5, rads_category=$6,
			rads_score=$7, ai_summary=$8, status=$9, radiologist_id=$10, verified_at=$11, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		rp.ID, rp.StudyID, rp.Findings, rp.Impression, rp.RADSSystem, rp.RADSCategory, rp.RADSScore,
		rp.AISummary, rp.Status, rp.RadiologistID, rp.VerifiedAt,
	).Scan(&rp.UpdatedAt)
	return mapErr(err)
}

func (r *reportRepoPG) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]*Report, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+reportCols+` FROM radiology_reports WHERE order_id = $1 ORDER BY created_at`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Report
	for rows.Next() {
		rp, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, rp)
	}
	return items, rows.Err()
}
