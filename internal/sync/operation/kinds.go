package operation

import (
	stderrors "errors"
	"fmt"
	"time"
)

// Built-in kinds.
const (
	KindAttendance = "attendance"
	KindEnrollment = "enrollment"
)

// Attendance event types.
const (
	EventCheckIn  = "check_in"
	EventCheckOut = "check_out"
)

// Identification methods.
const (
	MethodFingerprint = "fingerprint"
	MethodNFC         = "nfc"
	MethodBarcode     = "barcode"
	MethodFace        = "face"
	MethodManual      = "manual"
)

var validMethods = map[string]bool{
	MethodFingerprint: true,
	MethodNFC:         true,
	MethodBarcode:     true,
	MethodFace:        true,
	MethodManual:      true,
}

var errUserIDRequired = stderrors.New("userId is required")

// Location is an optional geotag on an attendance record.
type Location struct {
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Accuracy  *float64 `json:"accuracy,omitempty"`
}

// Attendance records a check-in or check-out at the kiosk.
// Only UserID is required; the other fields are checked when present.
type Attendance struct {
	UserID     string     `json:"userId"`
	EventType  string     `json:"eventType,omitempty"`
	Method     string     `json:"method,omitempty"`
	RecordedAt *time.Time `json:"recordedAt,omitempty"`
	DeviceID   string     `json:"deviceId,omitempty"`
	Location   *Location  `json:"location,omitempty"`
}

func (a *Attendance) Kind() string { return KindAttendance }

func (a *Attendance) Validate() error {
	if a.UserID == "" {
		return errUserIDRequired
	}
	if a.EventType != "" && a.EventType != EventCheckIn && a.EventType != EventCheckOut {
		return fmt.Errorf("eventType %q must be %s or %s", a.EventType, EventCheckIn, EventCheckOut)
	}
	if a.Method != "" && !validMethods[a.Method] {
		return fmt.Errorf("unknown identification method %q", a.Method)
	}
	if a.Location != nil {
		if a.Location.Latitude < -90 || a.Location.Latitude > 90 {
			return fmt.Errorf("latitude %v out of range", a.Location.Latitude)
		}
		if a.Location.Longitude < -180 || a.Location.Longitude > 180 {
			return fmt.Errorf("longitude %v out of range", a.Location.Longitude)
		}
	}
	return nil
}

// Enrollment registers a credential for a user.
type Enrollment struct {
	UserID        string `json:"userId"`
	Method        string `json:"method,omitempty"`
	CredentialRef string `json:"credentialRef,omitempty"`
	DeviceID      string `json:"deviceId,omitempty"`
}

func (e *Enrollment) Kind() string { return KindEnrollment }

func (e *Enrollment) Validate() error {
	if e.UserID == "" {
		return errUserIDRequired
	}
	if e.Method != "" && !validMethods[e.Method] {
		return fmt.Errorf("unknown identification method %q", e.Method)
	}
	if e.Method == MethodManual && e.CredentialRef != "" {
		return fmt.Errorf("manual enrollment carries no credential")
	}
	return nil
}
