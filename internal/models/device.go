package models

import "time"

// Device is an inverter registered with the platform. Registry CRUD lives elsewhere.
type Device struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Serial     string    `json:"serial"`
	Location   string    `json:"location"`
	Timezone   string    `json:"timezone"`
	APIKeyHash string    `json:"-"`
	CreatedAt  time.Time `json:"createdAt"`
}

// TimeLocation resolves the device timezone, falling back to the process zone.
func (d Device) TimeLocation() *time.Location {
	if d.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(d.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}
