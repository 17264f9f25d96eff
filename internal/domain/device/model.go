package device

import (
	"time"

	"github.com/google/uuid"
)

// Status is the device instance status. IN_REPAIR devices return to
// ACTIVE once their last open ticket resolves; DECOMMISSIONED is
// terminal.
type Status string

const (
	StatusActive         Status = "ACTIVE"
	StatusInRepair       Status = "IN_REPAIR"
	StatusDecommissioned Status = "DECOMMISSIONED"
)

func ValidStatus(s Status) bool {
	switch s {
	case StatusActive, StatusInRepair, StatusDecommissioned:
		return true
	}
	return false
}

// Device is one deployed equipment instance. PatientID and CaseID are
// nil until the device is assigned; unassigned stock is an explicit
// state, not sentinel values.
type Device struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	Serial      string     `db:"serial" json:"serial"`
	Model       string     `db:"model" json:"model"`
	Status      Status     `db:"status" json:"status"`
	PatientID   *uuid.UUID `db:"patient_id" json:"patient_id,omitempty"`
	CaseID      *uuid.UUID `db:"case_id" json:"case_id,omitempty"`
	DeliveredAt *time.Time `db:"delivered_at" json:"delivered_at,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
}
