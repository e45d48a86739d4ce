package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// DateLayout is the wire format for slot dates ("2025-12-15")
const DateLayout = "2006-01-02"

var clockLayouts = []string{"15:04:05", "15:04"}

// ErrInvalidSlotTimes is returned when a slot's end does not come after its start
var ErrInvalidSlotTimes = errors.New("slot end time must be after start time")

// RoomType represents the kind of bookable workspace
type RoomType string

const (
	RoomTypeMeeting    RoomType = "MEETING_ROOM"
	RoomTypeOffice     RoomType = "PRIVATE_OFFICE"
	RoomTypeDesk       RoomType = "HOT_DESK"
	RoomTypeConference RoomType = "CONFERENCE_ROOM"
)

// Room is the room a time slot belongs to
type Room struct {
	ID           int64    `json:"id"`
	Name         string   `json:"name"`
	Type         RoomType `json:"type"`
	Capacity     int      `json:"capacity"`
	PricePerHour float64  `json:"pricePerHour"`
}

// TimeSlot is a bookable interval of a room as returned by the backend.
// It is immutable once fetched and may be stale by the time it is used.
type TimeSlot struct {
	ID        int64  `json:"id"`
	Date      string `json:"date"`      // "2025-12-15"
	StartTime string `json:"startTime"` // "10:00" or "10:00:00"
	EndTime   string `json:"endTime"`
	Room      Room   `json:"room"`
	Available bool   `json:"available"`
}

// ParseClock parses a wall-clock time in either HH:MM or HH:MM:SS form
func ParseClock(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	for _, layout := range clockLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid time %q", value)
}

// Day returns the slot date parsed in UTC
func (s TimeSlot) Day() (time.Time, error) {
	day, err := time.Parse(DateLayout, s.Date)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid slot date %q: %w", s.Date, err)
	}
	return day, nil
}

// Hours returns the slot length in hours
func (s TimeSlot) Hours() (float64, error) {
	start, err := ParseClock(s.StartTime)
	if err != nil {
		return 0, err
	}
	end, err := ParseClock(s.EndTime)
	if err != nil {
		return 0, err
	}
	if !end.After(start) {
		return 0, ErrInvalidSlotTimes
	}
	return end.Sub(start).Hours(), nil
}

// Cost returns hours * room.pricePerHour. Display only, the payment intent amount wins.
func (s TimeSlot) Cost() (float64, error) {
	hours, err := s.Hours()
	if err != nil {
		return 0, err
	}
	return hours * s.Room.PricePerHour, nil
}

// FitsTeam reports whether teamSize is within 1..room capacity
func (s TimeSlot) FitsTeam(teamSize int) bool {
	return teamSize >= 1 && teamSize <= s.Room.Capacity
}

// FormatCost renders an amount with three decimals, e.g. "25.000 $"
func FormatCost(amount float64) string {
	return fmt.Sprintf("%.3f $", amount)
}
