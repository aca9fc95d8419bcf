package models

import "time"

type Coordinates struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type DriverStatus string

const (
	DriverAvailable DriverStatus = "AVAILABLE"
	DriverBusy      DriverStatus = "BUSY"
	DriverOffline   DriverStatus = "OFFLINE"
)

type ApprovalStatus string

const (
	ApprovalUnregistered ApprovalStatus = "UNREGISTERED"
	ApprovalPending      ApprovalStatus = "PENDING"
	ApprovalApproved     ApprovalStatus = "APPROVED"
	ApprovalRejected     ApprovalStatus = "REJECTED"
)

type VehicleType string

const (
	VehicleSedan     VehicleType = "Sedan"
	VehicleSUV       VehicleType = "SUV"
	VehicleLuxury    VehicleType = "Luxury"
	VehicleHatchback VehicleType = "Hatchback"
	VehicleAutomatic VehicleType = "Automatic"
	VehicleManual    VehicleType = "Manual"
)

type Role string

const (
	RoleCustomer Role = "customer"
	RoleDriver   Role = "driver"
	RoleAdmin    Role = "admin"
)

type BookingStatus string

const (
	StatusRequested  BookingStatus = "REQUESTED"
	StatusAccepted   BookingStatus = "ACCEPTED"
	StatusArrived    BookingStatus = "ARRIVED"
	StatusInProgress BookingStatus = "IN_PROGRESS"
	StatusCompleted  BookingStatus = "COMPLETED"
	StatusCancelled  BookingStatus = "CANCELLED"
)

// Terminal reports whether no further transitions are permitted.
func (s BookingStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

type CancelReason string

const (
	CancelByCustomer CancelReason = "customer_cancelled"
	CancelByDriver   CancelReason = "driver_cancelled"
	CancelNoDrivers  CancelReason = "no_drivers_available"
)

type DriverRecord struct {
	ID              string         `json:"id"`
	Name            string         `json:"name"`
	Phone           string         `json:"phone"`
	Photo           string         `json:"photo"`
	Rating          float64        `json:"rating"` // 0..5
	ExperienceYears int            `json:"experience_years"`
	Specialties     []VehicleType  `json:"specialties"`
	CitySector      string         `json:"city_sector"`
	Location        Coordinates    `json:"location"`
	Status          DriverStatus   `json:"status"`
	Approval        ApprovalStatus `json:"approval"`
	JobsCompleted   int            `json:"jobs_completed"`
	JobsLeft        int            `json:"jobs_left"`
	HourlyRate      int            `json:"hourly_rate"`
	Updated         time.Time      `json:"updated"`
}

// HasSpecialty reports whether the driver serves the given vehicle type.
// An empty vehicle type matches every driver.
func (d *DriverRecord) HasSpecialty(vt VehicleType) bool {
	if vt == "" {
		return true
	}
	for _, s := range d.Specialties {
		if s == vt {
			return true
		}
	}
	return false
}

type Booking struct {
	ID         string `json:"id"`
	CustomerID string `json:"customer_id"`

	// DriverID is the currently assigned candidate. It is reassignable
	// while the booking is REQUESTED and fixed once ACCEPTED. The
	// name/photo/phone snapshot is refreshed on every reassignment.
	DriverID    string `json:"driver_id"`
	DriverName  string `json:"driver_name"`
	DriverPhoto string `json:"driver_photo"`
	DriverPhone string `json:"driver_phone"`

	Status       BookingStatus `json:"status"`
	CancelReason CancelReason  `json:"cancel_reason,omitempty"`

	PickupLocation string      `json:"pickup_location"`
	DropLocation   string      `json:"drop_location,omitempty"`
	Origin         Coordinates `json:"origin"`

	PaymentHoldID string `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type ChatMessage struct {
	ID        string    `json:"id"`
	BookingID string    `json:"booking_id"`
	Sender    Role      `json:"sender"`
	Text      string    `json:"text"`
	SentAt    time.Time `json:"sent_at"`
}

// LocationUpdate is the wire shape published to Kafka by the locations
// endpoint and consumed into the geo index.
type LocationUpdate struct {
	DriverID string      `json:"driver_id"`
	Loc      Coordinates `json:"loc"`
	Online   bool        `json:"online"`
}

// JobOffer is the payload pushed to a driver when it becomes the head of
// a booking's candidate queue.
type JobOffer struct {
	BookingID      string    `json:"booking_id"`
	DriverID       string    `json:"driver_id"`
	CustomerID     string    `json:"customer_id"`
	PickupLocation string    `json:"pickup_location"`
	ExpiresAt      time.Time `json:"expires_at"`
}
