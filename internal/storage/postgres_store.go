package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/example/driver-hail/internal/models"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) SaveBooking(ctx context.Context, b *models.Booking) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO bookings(id, customer_id, driver_id, driver_name, driver_photo, driver_phone,
		                     status, cancel_reason, pickup_location, drop_location,
		                     origin_lat, origin_lng, payment_hold_id, created_at, updated_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		b.ID, b.CustomerID, b.DriverID, b.DriverName, b.DriverPhoto, b.DriverPhone,
		b.Status, b.CancelReason, b.PickupLocation, b.DropLocation,
		b.Origin.Lat, b.Origin.Lng, b.PaymentHoldID, b.CreatedAt, b.UpdatedAt)
	return err
}

func (p *PostgresStore) UpdateBooking(ctx context.Context, b *models.Booking) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE bookings
		SET driver_id=$1, driver_name=$2, driver_photo=$3, driver_phone=$4,
		    status=$5, cancel_reason=$6, payment_hold_id=$7, updated_at=$8
		WHERE id=$9`,
		b.DriverID, b.DriverName, b.DriverPhoto, b.DriverPhone,
		b.Status, b.CancelReason, b.PaymentHoldID, time.Now(), b.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("booking %s: %w", b.ID, models.ErrNotFound)
	}
	return nil
}

func (p *PostgresStore) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	var b models.Booking
	err := p.db.QueryRowContext(ctx, `
		SELECT id, customer_id, driver_id, driver_name, driver_photo, driver_phone,
		       status, cancel_reason, pickup_location, drop_location,
		       origin_lat, origin_lng, payment_hold_id, created_at, updated_at
		FROM bookings WHERE id=$1`, id).Scan(
		&b.ID, &b.CustomerID, &b.DriverID, &b.DriverName, &b.DriverPhoto, &b.DriverPhone,
		&b.Status, &b.CancelReason, &b.PickupLocation, &b.DropLocation,
		&b.Origin.Lat, &b.Origin.Lng, &b.PaymentHoldID, &b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("booking %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (p *PostgresStore) AppendMessage(ctx context.Context, m *models.ChatMessage) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO chat_messages(id, booking_id, sender, text, sent_at)
		VALUES($1,$2,$3,$4,$5)`,
		m.ID, m.BookingID, m.Sender, m.Text, m.SentAt)
	return err
}

func (p *PostgresStore) ListMessages(ctx context.Context, bookingID string) ([]models.ChatMessage, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, booking_id, sender, text, sent_at
		FROM chat_messages WHERE booking_id=$1 ORDER BY sent_at ASC`, bookingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.ChatMessage
	for rows.Next() {
		var m models.ChatMessage
		if err := rows.Scan(&m.ID, &m.BookingID, &m.Sender, &m.Text, &m.SentAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
