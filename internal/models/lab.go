package models

import "time"

// Lab is a bookable room in the resource catalog.
type Lab struct {
	Code               string              `db:"code" json:"code"`
	Name               string              `db:"name" json:"name"`
	Capacity           int                 `db:"capacity" json:"capacity"`
	MaintenanceWindows []MaintenanceWindow `db:"-" json:"maintenance_windows"`
	CreatedAt          time.Time           `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time           `db:"updated_at" json:"updated_at"`
}

// MaintenanceOn returns the first window covering date, if any.
func (l *Lab) MaintenanceOn(date time.Time) *MaintenanceWindow {
	for i := range l.MaintenanceWindows {
		if l.MaintenanceWindows[i].Covers(date) {
			return &l.MaintenanceWindows[i]
		}
	}
	return nil
}

// MaintenanceWindow blocks a lab for an inclusive range of days.
type MaintenanceWindow struct {
	ID        string    `db:"id" json:"id"`
	LabCode   string    `db:"lab_code" json:"lab_code"`
	StartDate time.Time `db:"start_date" json:"start_date"`
	EndDate   time.Time `db:"end_date" json:"end_date"`
	Reason    string    `db:"reason" json:"reason"`
	CreatedBy *string   `db:"created_by" json:"created_by,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Covers reports whether date falls inside [StartDate, EndDate].
func (w MaintenanceWindow) Covers(date time.Time) bool {
	d := FormatDate(date)
	return d >= FormatDate(w.StartDate) && d <= FormatDate(w.EndDate)
}

// Subject is a catalog entry that staff bookings must reference.
type Subject struct {
	ID   string `db:"id" json:"id"`
	Code string `db:"code" json:"code"`
	Name string `db:"name" json:"name"`
}
