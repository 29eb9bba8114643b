package schedule

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/dkeye/consult/internal/domain"
)

// ReadAppointments loads a JSON array of appointments as exported by the booking backend.
func ReadAppointments(path string) ([]domain.Appointment, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read appointments: %w", err)
	}
	var items []domain.Appointment
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("parse appointments: %w", err)
	}
	for i, a := range items {
		if _, err := domain.ParseSessionID(string(a.SessionID)); err != nil {
			return nil, fmt.Errorf("appointment %d: %w", i, err)
		}
		if a.End.Before(a.Start) {
			return nil, fmt.Errorf("appointment %d: ends before it starts", i)
		}
	}
	return items, nil
}
