package accounts

import (
	"context"
	"fmt"
	"time"

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
	}
	return err
}

// =========== User Repository ===========

type userRepoPG struct{ pool *pgxpool.Pool }

func NewUserRepoPG(pool *pgxpool.Pool) UserRepository { return &userRepoPG{pool: pool} }

func (r *userRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

const userCols = `id, email, username, password_hash, first_name, last_name, phone, role,
	is_active, is_staff, last_login, created_at, updated_at`

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.Username, &u.PasswordHash, &u.FirstName, &u.LastName, &u.Phone, &u.Role,
		&u.IsActive, &u.IsStaff, &u.LastLogin, &u.CreatedAt, &u.UpdatedAt)
	return &u, err
}

func (r *userRepoPG) Create(ctx context.Context, u *User) error {
	u.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO users (id, email, username, password_hash, first_name, last_name, phone, role, is_active, is_staff)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING created_at, updated_at`,
		u.ID, u.Email, u.Username, u.PasswordHash, u.FirstName, u.LastName, u.Phone, u.Role, u.IsActive, u.IsStaff,
	).Scan(&u.CreatedAt, &u.UpdatedAt)
	return mapErr(err)
}

func (r *userRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	u, err := scanUser(r.conn(ctx).QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE id = $1`, id))
	return u, mapErr(err)
}

func (r *userRepoPG) GetByEmail(ctx context.Context, email string) (*User, error) {
	u, err := scanUser(r.conn(ctx).QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE LOWER(email) = LOWER($1)`, email))
	return u, mapErr(err)
}

func (r *userRepoPG) GetByUsername(ctx context.Context, username string) (*User, error) {
	u, err := scanUser(r.conn(ctx).QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE LOWER(username) = LOWER($1)`, username))
	return u, mapErr(err)
}

func (r *userRepoPG) Update(ctx context.Context, u *User) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE users SET email=$2, username=$3, first_name=$4, last_name=$5, phone=$6, role=$7,
			is_active=$8, is_staff=$9, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		u.ID, u.Email, u.Username, u.FirstName, u.LastName, u.Phone, u.Role, u.IsActive, u.IsStaff,
	).Scan(&u.UpdatedAt)
	return mapErr(err)
}

func (r *userRepoPG) UpdatePassword(ctx context.Context, id uuid.UUID, hash string) error {
	tag, err := r.conn(ctx).Exec(ctx, `UPDATE users SET password_hash = $2, updated_at = NOW() WHERE id = $1`, id, hash)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *userRepoPG) TouchLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := r.conn(ctx).Exec(ctx, `UPDATE users SET last_login = $2 WHERE id = $1`, id, at)
	return err
}

func (r *userRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *userRepoPG) List(ctx context.Context, f UserFilter, limit, offset int) ([]*User, int, error) {
	where := ` WHERE 1=1`
	var args []interface{}
	idx := 1
	if f.Role != "" {
		where += fmt.Sprintf(` AND role = $%d`, idx)
		args = append(args, f.Role)
		idx++
	}
	if f.Active != nil {
		where += fmt.Sprintf(` AND is_active = $%d`, idx)
		args = append(args, *f.Active)
		idx++
	}
	if f.Search != "" {
		where += fmt.Sprintf(` AND (email ILIKE $%d OR username ILIKE $%d OR first_name ILIKE $%d OR last_name ILIKE $%d)`,
			idx, idx, idx, idx)
		args = append(args, "%"+f.Search+"%")
		idx++
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM users`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + userCols + ` FROM users` + where +
		fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, u)
	}
	return items, total, rows.Err()
}

// =========== Staff Profile Repository ===========

type staffRepoPG struct{ pool *pgxpool.Pool }

func NewStaffProfileRepoPG(pool *pgxpool.Pool) StaffProfileRepository { return &staffRepoPG{pool: pool} }

func (r *staffRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

func (r *staffRepoPG) Get(ctx context.Context, userID uuid.UUID) (*StaffProfile, error) {
	var p StaffProfile
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT user_id, department, specialization, license_number, qualification, years_of_experience,
			consultation_fee, available, created_at, updated_at
		FROM staff_profiles WHERE user_id = $1`, userID).Scan(
		&p.UserID, &p.Department, &p.Specialization, &p.LicenseNumber, &p.Qualification, &p.YearsOfExperience,
		&p.ConsultationFee, &p.Available, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &p, nil
}

func (r *staffRepoPG) Upsert(ctx context.Context, p *StaffProfile) error {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO staff_profiles (user_id, department, specialization, license_number, qualification,
			years_of_experience, consultation_fee, available)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (user_id) DO UPDATE SET
			department = EXCLUDED.department,
			specialization = EXCLUDED.specialization,
			license_number = EXCLUDED.license_number,
			qualification = EXCLUDED.qualification,
			years_of_experience = EXCLUDED.years_of_experience,
			consultation_fee = EXCLUDED.consultation_fee,
			available = EXCLUDED.available,
			updated_at = NOW()
		RETURNING created_at, updated_at`,
		p.UserID, p.Department, p.Specialization, p.LicenseNumber, p.Qualification,
		p.YearsOfExperience, p.ConsultationFee, p.Available,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	return mapErr(err)
}

// =========== Patient Profile Repository ===========

type patientRepoPG struct{ pool *pgxpool.Pool }

func NewPatientProfileRepoPG(pool *pgxpool.Pool) PatientProfileRepository { return &patientRepoPG{pool: pool} }

func (r *patientRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

func (r *patientRepoPG) Get(ctx context.Context, userID uuid.UUID) (*PatientProfile, error) {
	var p PatientProfile
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT user_id, date_of_birth, gender, blood_group, address, emergency_contact_name,
			emergency_contact_phone, allergies, medical_history, insurance_provider, insurance_number,
			created_at, updated_at
		FROM patient_profiles WHERE user_id = $1`, userID).Scan(
		&p.UserID, &p.DateOfBirth, &p.Gender, &p.BloodGroup, &p.Address, &p.EmergencyContactName,
		&p.EmergencyContactPhone, &p.Allergies, &p.MedicalHistory, &p.InsuranceProvider, &p.InsuranceNumber,
		&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &p, nil
}

func (r *patientRepoPG) Upsert(ctx context.Context, p *PatientProfile) error {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO patient_profiles (user_id, date_of_birth, gender, blood_group, address, emergency_contact_name,
			emergency_contact_phone, allergies, medical_history, insurance_provider, insurance_number)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (user_id) DO UPDATE SET
			date_of_birth = EXCLUDED.date_of_birth,
			gender = EXCLUDED.gender,
			blood_group = EXCLUDED.blood_group,
			address = EXCLUDED.address,
			emergency_contact_name = EXCLUDED.emergency_contact_name,
			emergency_contact_phone = EXCLUDED.emergency_contact_phone,
			allergies = EXCLUDED.allergies,
			medical_history = EXCLUDED.medical_history,
			insurance_provider = EXCLUDED.insurance_provider,
			insurance_number = EXCLUDED.insurance_number,
			updated_at = NOW()
		RETURNING created_at, updated_at`,
		p.UserID, p.DateOfBirth, p.Gender, p.BloodGroup, p.Address, p.EmergencyContactName,
		p.EmergencyContactPhone, p.Allergies, p.MedicalHistory, p.InsuranceProvider, p.InsuranceNumber,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	return mapErr(err)
}
