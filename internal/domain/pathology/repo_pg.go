package pathology

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

const orderCols = `id, patient_id, doctor_id, test_code, test_name, priority, clinical_notes, status, created_at, updated_at`

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	err := row.Scan(&o.ID, &o.PatientID, &o.DoctorID, &o.TestCode, &o.TestName, &o.Priority,
		&o.ClinicalNotes, &o.Status, &o.CreatedAt, &o.UpdatedAt)
	return &o, err
}

func (r *orderRepoPG) Create(ctx context.Context, o *Order) error {
	o.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO pathology_orders (id, patient_id, doctor_id, test_code, test_name, priority, clinical_notes, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING created_at, updated_at`,
		o.ID, o.PatientID, o.DoctorID, o.TestCode, o.TestName, o.Priority, o.ClinicalNotes, o.Status,
	).Scan(&o.CreatedAt, &o.UpdatedAt)
}

func (r *orderRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Order, error) {
	o, err := scanOrder(r.conn(ctx).QueryRow(ctx, `SELECT `+orderCols+` FROM pathology_orders WHERE id = $1`, id))
	if err != nil {
		return nil, mapErr(err)
	}
	return o, nil
}

func (r *orderRepoPG) Update(ctx context.Context, o *Order) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE pathology_orders SET test_code=$2, test_name=$3, priority=$4, clinical_notes=$5, status=$6, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		o.ID, o.TestCode, o.TestName, o.Priority, o.ClinicalNotes, o.Status,
	).Scan(&o.UpdatedAt)
	return mapErr(err)
}

func (r *orderRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM pathology_orders WHERE id = $1`, id)
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
	if f.Priority != "" {
		where += fmt.Sprintf(` AND priority = $%d`, idx)
		args = append(args, f.Priority)
		idx++
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM pathology_orders`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + orderCols + ` FROM pathology_orders` + where +
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

// -- Specimens --

type specimenRepoPG struct{ pool *pgxpool.Pool }

func NewSpecimenRepoPG(pool *pgxpool.Pool) SpecimenRepository { return &specimenRepoPG{pool: pool} }

func (r *specimenRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

const specimenCols = `id, order_id, specimen_type, accession_number, collected_at, collected_by, received_at,
	condition, status, notes, created_at, updated_at`

func scanSpecimen(row pgx.Row) (*Specimen, error) {
	var s Specimen
	err := row.Scan(&s.ID, &s.OrderID, &s.SpecimenType, &s.AccessionNumber, &s.CollectedAt, &s.CollectedBy,
		&s.ReceivedAt, &s.Condition, &s.Status, &s.Notes, &s.CreatedAt, &s.UpdatedAt)
	return &s, err
}

func (r *specimenRepoPG) Create(ctx context.Context, s *Specimen) error {
	s.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO specimens (id, order_id, specimen_type, accession_number, collected_at, collected_by,
			received_at, condition, status, notes)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING created_at, updated_at`,
		s.ID, s.OrderID, s.SpecimenType, s.AccessionNumber, s.CollectedAt, s.CollectedBy,
		s.ReceivedAt, s.Condition, s.Status, s.Notes,
	).Scan(&s.CreatedAt, &s.UpdatedAt)
	return mapErr(err)
}

func (r *specimenRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Specimen, error) {
	s, err := scanSpecimen(r.conn(ctx).QueryRow(ctx, `SELECT `+specimenCols+` FROM specimens WHERE id = $1`, id))
	if err != nil {
		return nil, mapErr(err)
	}
	return s, nil
}

func (r *specimenRepoPG) Update(ctx context.Context, s *Specimen) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE specimens SET specimen_type=$2, collected_at=$3, collected_by=$4, received_at=$5,
			condition=$6, status=$7, notes=$8, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		s.ID, s.SpecimenType, s.CollectedAt, s.CollectedBy, s.ReceivedAt, s.Condition, s.Status, s.Notes,
	).Scan(&s.UpdatedAt)
	return mapErr(err)
}

func (r *specimenRepoPG) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]*Specimen, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+specimenCols+` FROM specimens WHERE order_id = $1 ORDER BY created_at`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Specimen
	for rows.Next() {
		s, err := scanSpecimen(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, s)
	}
	return items, rows.Err()
}

func (r *specimenRepoPG) NextAccessionSeq(ctx context.Context) (int64, error) {
	var n int64
	err := r.conn(ctx).QueryRow(ctx, `SELECT nextval('accession_number_seq')`).Scan(&n)
	return n, err
}

// -- Reports --

type reportRepoPG struct{ pool *pgxpool.Pool }

func NewReportRepoPG(pool *pgxpool.Pool) ReportRepository { return &reportRepoPG{pool: pool} }

func (r *reportRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

const reportCols = `id, order_id, findings, diagnosis, result_values, status, pathologist_id, verified_at,
	attachment_key, created_at, updated_at`

func scanReport(row pgx.Row) (*Report, error) {
	var rp Report
	err := row.Scan(&rp.ID, &rp.OrderID, &rp.Findings, &rp.Diagnosis, &rp.ResultValues, &rp.Status,
		&rp.PathologistID, &rp.VerifiedAt, &rp.AttachmentKey, &rp.CreatedAt, &rp.UpdatedAt)
	return &rp, err
}

func resultValues(v map[string]interface{}) map[string]interface{} {
	if v == nil {
		return map[string]interface{}{}
	}
	return v
}

func (r *reportRepoPG) Create(ctx context.Context, rp *Report) error {
	rp.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO pathology_reports (id, order_id, findings, diagnosis, result_values, status, pathologist_id,
			verified_at, attachment_key)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING created_at, updated_at`,
		rp.ID, rp.OrderID, rp.Findings, rp.Diagnosis, resultValues(rp.ResultValues), rp.Status, rp.PathologistID,
		rp.VerifiedAt, rp.AttachmentKey,
	).Scan(&rp.CreatedAt, &rp.UpdatedAt)
	return mapErr(err)
}

func (r *reportRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Report, error) {
	rp, err := scanReport(r.conn(ctx).QueryRow(ctx, `SELECT `+reportCols+` FROM pathology_reports WHERE id = $1`, id))
	if err != nil {
		return nil, mapErr(err)
	}
	return rp, nil
}

func (r *reportRepoPG) GetByOrder(ctx context.Context, orderID uuid.UUID) (*Report, error) {
	rp, err := scanReport(r.conn(ctx).QueryRow(ctx,
		`SELECT `+reportCols+` FROM pathology_reports WHERE order_id = $1`, orderID))
	if err != nil {
		return nil, mapErr(err)
	}
	return rp, nil
}

func (r *reportRepoPG) Update(ctx context.Context, rp *Report) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE pathology_reports SET findings=$2, diagnosis=$3, result_values=$4, status=$5, pathologist_id=$6,
			verified_at=$7, attachment_key=$8, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		rp.ID, rp.Findings, rp.Diagnosis, resultValues(rp.ResultValues), rp.Status, rp.PathologistID,
		rp.VerifiedAt, rp.AttachmentKey,
	).Scan(&rp.UpdatedAt)
	return mapErr(err)
}
