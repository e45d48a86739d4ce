package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/spacebook/booking-flow/internal/models"
)

// ViewMode is the calendar granularity
type ViewMode string

const (
	ViewDay   ViewMode = "day"
	ViewWeek  ViewMode = "week"
	ViewMonth ViewMode = "month"
)

// Slot classification in the calendar grid
const (
	SlotStatusAvailable = "available"
	SlotStatusBooked    = "booked"
)

// ErrInvalidViewMode is returned for an unknown view name
var ErrInvalidViewMode = errors.New("view must be day, week or month")

// ParseViewMode parses a view name; empty means week
func ParseViewMode(value string) (ViewMode, error) {
	switch ViewMode(strings.ToLower(strings.TrimSpace(value))) {
	case "", ViewWeek:
		return ViewWeek, nil
	case ViewDay:
		return ViewDay, nil
	case ViewMonth:
		return ViewMonth, nil
	default:
		return "", ErrInvalidViewMode
	}
}

// RangeFor returns the inclusive first and last day shown for anchor.
// Weeks start on Monday; months are calendar months.
func RangeFor(mode ViewMode, anchor time.Time) (time.Time, time.Time) {
	day := time.Date(anchor.Year(), anchor.Month(), anchor.Day(), 0, 0, 0, 0, time.UTC)

	switch mode {
	case ViewDay:
		return day, day
	case ViewMonth:
		first := time.Date(day.Year(), day.Month(), 1, 0, 0, 0, 0, time.UTC)
		return first, first.AddDate(0, 1, -1)
	default:
		offset := (int(day.Weekday()) + 6) % 7
		start := day.AddDate(0, 0, -offset)
		return start, start.AddDate(0, 0, 6)
	}
}

// CalendarQuery selects what the grid shows
type CalendarQuery struct {
	Mode   ViewMode
	Date   time.Time
	RoomID int64 // 0 = all rooms
}

// CalendarSlot is one cell of the grid
type CalendarSlot struct {
	models.TimeSlot
	Status      string  `json:"status"`
	Cost        float64 `json:"cost"`
	DisplayCost string  `json:"displayCost"`
	Selectable  bool    `json:"selectable"`
}

// CalendarDay groups the slots of one date
type CalendarDay struct {
	Date  string         `json:"date"`
	Slots []CalendarSlot `json:"slots"`
}

// CalendarView is the rendered availability grid
type CalendarView struct {
	Mode      ViewMode      `json:"view"`
	StartDate string        `json:"startDate"`
	EndDate   string        `json:"endDate"`
	RoomID    int64         `json:"roomId,omitempty"`
	Rooms     []models.Room `json:"rooms"`
	Days      []CalendarDay `json:"days"`
	Available int           `json:"available"`
	Booked    int           `json:"booked"`
}

// CalendarService renders slot availability. It never caches: every call re-fetches.
type CalendarService struct {
	slots  TimeSlotProvider
	logger *logrus.Logger
}

// NewCalendarService creates a new calendar service
func NewCalendarService(slots TimeSlotProvider, logger *logrus.Logger) *CalendarService {
	return &CalendarService{slots: slots, logger: logger}
}

// GetView fetches slots for the query range and groups them by day
func (s *CalendarService) GetView(ctx context.Context, session models.Session, query CalendarQuery) (*CalendarView, error) {
	start, end := RangeFor(query.Mode, query.Date)
	startDate, endDate := start.Format(models.DateLayout), end.Format(models.DateLayout)

	slots, err := s.slots.GetTimeSlots(ctx, session.Token, startDate, endDate)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch time slots: %w", err)
	}

	view := &CalendarView{
		Mode:      query.Mode,
		StartDate: startDate,
		EndDate:   endDate,
		RoomID:    query.RoomID,
		Rooms:     []models.Room{},
	}

	byDay := make(map[string][]CalendarSlot)
	seenRooms := make(map[int64]bool)
	for _, slot := range slots {
		if !seenRooms[slot.Room.ID] {
			seenRooms[slot.Room.ID] = true
			view.Rooms = append(view.Rooms, slot.Room)
		}
		if query.RoomID != 0 && slot.Room.ID != query.RoomID {
			continue
		}
		if slot.Date < startDate || slot.Date > endDate {
			continue
		}

		cell := CalendarSlot{TimeSlot: slot, Status: SlotStatusBooked}
		if slot.Available {
			cell.Status = SlotStatusAvailable
			cell.Selectable = true
			view.Available++
		} else {
			view.Booked++
		}
		if cost, err := slot.Cost(); err == nil {
			cell.Cost = cost
			cell.DisplayCost = models.FormatCost(cost)
		} else {
			s.logger.WithError(err).WithField("slot_id", slot.ID).Debug("Slot has unusable times")
		}
		byDay[slot.Date] = append(byDay[slot.Date], cell)
	}

	sort.Slice(view.Rooms, func(i, j int) bool { return view.Rooms[i].ID < view.Rooms[j].ID })

	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		date := day.Format(models.DateLayout)
		cells := byDay[date]
		sort.SliceStable(cells, func(i, j int) bool {
			return clockKey(cells[i].StartTime) < clockKey(cells[j].StartTime)
		})
		if cells == nil {
			cells = []CalendarSlot{}
		}
		view.Days = append(view.Days, CalendarDay{Date: date, Slots: cells})
	}

	return view, nil
}

// FindSlot resolves a clicked slot on a given date
func (s *CalendarService) FindSlot(ctx context.Context, session models.Session, slotID int64, date string) (*models.TimeSlot, error) {
	if _, err := time.Parse(models.DateLayout, date); err != nil {
		return nil, &ValidationError{Field: "date", Message: "date must be YYYY-MM-DD"}
	}

	slots, err := s.slots.GetTimeSlots(ctx, session.Token, date, date)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch time slots: %w", err)
	}
	for i := range slots {
		if slots[i].ID == slotID {
			return &slots[i], nil
		}
	}
	return nil, ErrSlotNotFound
}

// clockKey normalizes "10:00" and "10:00:00" for ordering
func clockKey(value string) string {
	t, err := models.ParseClock(value)
	if err != nil {
		return value
	}
	return t.Format("15:04:05")
}
