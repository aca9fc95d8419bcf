package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/example/driver-hail/internal/models"
)

type Postgres struct {
	db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) Get(ctx context.Context, driverID string) (models.DriverRecord, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, name, phone, photo, rating, experience_years, specialties,
		       city_sector, lat, lng, status, approval, jobs_completed, jobs_left,
		       hourly_rate, updated_at
		FROM drivers WHERE id=$1`, driverID)
	return scanDriver(row)
}

func (p *Postgres) ListEligible(ctx context.Context, f Filter) ([]models.DriverRecord, error) {
	q := `
		SELECT id, name, phone, photo, rating, experience_years, specialties,
		       city_sector, lat, lng, status, approval, jobs_completed, jobs_left,
		       hourly_rate, updated_at
		FROM drivers
		WHERE approval=$1 AND status=$2
		  AND ($3 = '' OR $3 = ANY(specialties))
		  AND ($4 = '' OR city_sector = $4)`
	rows, err := p.db.QueryContext(ctx, q, models.ApprovalApproved, models.DriverAvailable, string(f.VehicleType), f.CitySector)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.DriverRecord
	for rows.Next() {
		d, err := scanDriver(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (p *Postgres) SetStatus(ctx context.Context, driverID string, status models.DriverStatus) error {
	return p.exec(ctx, driverID, `UPDATE drivers SET status=$1, updated_at=$2 WHERE id=$3`, status, time.Now(), driverID)
}

func (p *Postgres) RecordCompletion(ctx context.Context, driverID string) error {
	return p.exec(ctx, driverID, `
		UPDATE drivers
		SET jobs_completed = jobs_completed + 1,
		    jobs_left = GREATEST(jobs_left - 1, 0),
		    updated_at = $1
		WHERE id=$2`, time.Now(), driverID)
}

func (p *Postgres) Register(ctx context.Context, d *models.DriverRecord) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.Approval == "" || d.Approval == models.ApprovalUnregistered {
		d.Approval = models.ApprovalPending
	}
	if d.Status == "" {
		d.Status = models.DriverOffline
	}
	d.Updated = time.Now()
	specs := make([]string, len(d.Specialties))
	for i, s := range d.Specialties {
		specs[i] = string(s)
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO drivers(id, name, phone, photo, rating, experience_years, specialties,
		                    city_sector, lat, lng, status, approval, jobs_completed, jobs_left,
		                    hourly_rate, updated_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		d.ID, d.Name, d.Phone, d.Photo, d.Rating, d.ExperienceYears, pq.Array(specs),
		d.CitySector, d.Location.Lat, d.Location.Lng, d.Status, d.Approval,
		d.JobsCompleted, d.JobsLeft, d.HourlyRate, d.Updated)
	return err
}

func (p *Postgres) SetApproval(ctx context.Context, driverID string, approval models.ApprovalStatus) error {
	return p.exec(ctx, driverID, `UPDATE drivers SET approval=$1, updated_at=$2 WHERE id=$3`, approval, time.Now(), driverID)
}

func (p *Postgres) UpdateLocation(ctx context.Context, driverID string, loc models.Coordinates) error {
	return p.exec(ctx, driverID, `UPDATE drivers SET lat=$1, lng=$2, updated_at=$3 WHERE id=$4`, loc.Lat, loc.Lng, time.Now(), driverID)
}

func (p *Postgres) exec(ctx context.Context, driverID, q string, args ...any) error {
	res, err := p.db.ExecContext(ctx, q, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("driver %s: %w", driverID, models.ErrNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDriver(row rowScanner) (models.DriverRecord, error) {
	var d models.DriverRecord
	var specs pq.StringArray
	err := row.Scan(&d.ID, &d.Name, &d.Phone, &d.Photo, &d.Rating, &d.ExperienceYears, &specs,
		&d.CitySector, &d.Location.Lat, &d.Location.Lng, &d.Status, &d.Approval,
		&d.JobsCompleted, &d.JobsLeft, &d.HourlyRate, &d.Updated)
	if errors.Is(err, sql.ErrNoRows) {
		return models.DriverRecord{}, fmt.Errorf("driver: %w", models.ErrNotFound)
	}
	if err != nil {
		return models.DriverRecord{}, err
	}
	d.Specialties = make([]models.VehicleType, len(specs))
	for i, s := range specs {
		d.Specialties[i] = models.VehicleType(s)
	}
	return d, nil
}
