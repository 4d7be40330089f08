// Package mapper turns raw Source API items into normalized rows.
package mapper

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"eventsync/internal/syncerr"
)

const (
	// UnknownAttendee is the display name of a registration with no usable name
	UnknownAttendee = "Unknown Attendee"
	// UntitledEvent is the display name of an event with no title
	UntitledEvent = "Untitled Event"
)

// Row is one normalized output record
type Row interface {
	RowID() string
	DisplayName() string
}

// Func maps one raw item to a row
type Func func(raw json.RawMessage) (Row, error)

// Registration is a normalized attendee registration
type Registration struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Email        string `json:"email"`
	EventID      string `json:"eventId"`
	OrderID      string `json:"orderId,omitempty"`
	Status       string `json:"status"`
	RegisteredAt string `json:"registeredAt"`
	TicketClass  string `json:"ticketClass"`
	CheckedIn    bool   `json:"checkedIn"`
	Cancelled    bool   `json:"cancelled"`
	Refunded     bool   `json:"refunded"`
}

func (r *Registration) RowID() string       { return r.ID }
func (r *Registration) DisplayName() string { return r.Name }

// Event is a normalized event listing
type Event struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	URL         string `json:"url"`
	StartTime   string `json:"startTime"`
	EndTime     string `json:"endTime"`
	Status      string `json:"status,omitempty"`
	Timezone    string `json:"timezone,omitempty"`
	OnlineEvent bool   `json:"onlineEvent"`
	Capacity    int    `json:"capacity,omitempty"`
}

func (e *Event) RowID() string       { return e.ID }
func (e *Event) DisplayName() string { return e.Name }

// flexID accepts identifiers encoded as JSON strings or numbers
type flexID string

func (f *flexID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexID(n.String())
	return nil
}

type attendeeItem struct {
	ID              flexID `json:"id"`
	EventID         flexID `json:"event_id"`
	OrderID         flexID `json:"order_id"`
	Status          string `json:"status"`
	Created         string `json:"created"`
	TicketClassName string `json:"ticket_class_name"`
	CheckedIn       bool   `json:"checked_in"`
	Cancelled       bool   `json:"cancelled"`
	Refunded        bool   `json:"refunded"`
	Profile         struct {
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
		Email     string `json:"email"`
	} `json:"profile"`
}

// MapRegistration maps an attendee item to a Registration
func MapRegistration(raw json.RawMessage) (Row, error) {
	var item attendeeItem
	if err := json.Unmarshal(raw, &item); err != nil {
		return nil, syncerr.Wrap(err, syncerr.KindProtocol, "decode attendee")
	}
	if item.ID == "" {
		return nil, syncerr.New(syncerr.KindProtocol, "attendee is missing id")
	}

	registeredAt, err := normalizeTimestamp(item.Created)
	if err != nil {
		return nil, syncerr.Wrap(err, syncerr.KindProtocol, "attendee "+string(item.ID)+" has invalid created timestamp")
	}

	return &Registration{
		ID:           string(item.ID),
		Name:         fullName(item.Profile.FirstName, item.Profile.LastName),
		Email:        strings.TrimSpace(item.Profile.Email),
		EventID:      string(item.EventID),
		OrderID:      string(item.OrderID),
		Status:       item.Status,
		RegisteredAt: registeredAt,
		TicketClass:  item.TicketClassName,
		CheckedIn:    item.CheckedIn,
		Cancelled:    item.Cancelled,
		Refunded:     item.Refunded,
	}, nil
}

type eventItem struct {
	ID   flexID `json:"id"`
	Name struct {
		Text string `json:"text"`
	} `json:"name"`
	URL   string `json:"url"`
	Start struct {
		Timezone string `json:"timezone"`
		UTC      string `json:"utc"`
	} `json:"start"`
	End struct {
		UTC string `json:"utc"`
	} `json:"end"`
	Status      string `json:"status"`
	OnlineEvent bool   `json:"online_event"`
	Capacity    int    `json:"capacity"`
}

// MapEvent maps an event item to an Event
func MapEvent(raw json.RawMessage) (Row, error) {
	var item eventItem
	if err := json.Unmarshal(raw, &item); err != nil {
		return nil, syncerr.Wrap(err, syncerr.KindProtocol, "decode event")
	}
	if item.ID == "" {
		return nil, syncerr.New(syncerr.KindProtocol, "event is missing id")
	}

	name := strings.TrimSpace(item.Name.Text)
	if name == "" {
		name = UntitledEvent
	}

	return &Event{
		ID:          string(item.ID),
		Name:        name,
		URL:         item.URL,
		StartTime:   item.Start.UTC,
		EndTime:     item.End.UTC,
		Status:      item.Status,
		Timezone:    item.Start.Timezone,
		OnlineEvent: item.OnlineEvent,
		Capacity:    item.Capacity,
	}, nil
}

func fullName(first, last string) string {
	name := strings.TrimSpace(strings.TrimSpace(first) + " " + strings.TrimSpace(last))
	if name == "" {
		return UnknownAttendee
	}
	return name
}

// Timestamps without a zone are taken as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
}

func normalizeTimestamp(value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", nil
	}

	var lastErr error
	for _, layout := range timestampLayouts {
		t, err := time.Parse(layout, value)
		if err == nil {
			return t.UTC().Format(time.RFC3339Nano), nil
		}
		lastErr = err
	}
	return "", lastErr
}
