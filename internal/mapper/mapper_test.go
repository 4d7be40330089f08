package mapper

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventsync/internal/syncerr"
)

func TestMapRegistration(t *testing.T) {
	raw := json.RawMessage(`{
		"id": "a1",
		"event_id": "1234567890",
		"order_id": 77,
		"status": "Attending",
		"created": "2024-03-05T09:30:00-05:00",
		"ticket_class_name": "General Admission",
		"checked_in": true,
		"profile": {"first_name": " Ada ", "last_name": "Lovelace", "email": "ada@example.com"}
	}`)

	row, err := MapRegistration(raw)
	require.NoError(t, err)

	reg, ok := row.(*Registration)
	require.True(t, ok)
	assert.Equal(t, "a1", reg.RowID())
	assert.Equal(t, "Ada Lovelace", reg.DisplayName())
	assert.Equal(t, "ada@example.com", reg.Email)
	assert.Equal(t, "1234567890", reg.EventID)
	assert.Equal(t, "77", reg.OrderID)
	assert.Equal(t, "Attending", reg.Status)
	assert.Equal(t, "2024-03-05T14:30:00Z", reg.RegisteredAt)
	assert.Equal(t, "General Admission", reg.TicketClass)
	assert.True(t, reg.CheckedIn)
	assert.False(t, reg.Cancelled)
}

func TestMapRegistration_Names(t *testing.T) {
	tests := []struct {
		name    string
		profile string
		want    string
	}{
		{name: "both empty", profile: `{"first_name": "", "last_name": ""}`, want: UnknownAttendee},
		{name: "absent", profile: `{}`, want: UnknownAttendee},
		{name: "whitespace only", profile: `{"first_name": "  ", "last_name": " "}`, want: UnknownAttendee},
		{name: "last name only", profile: `{"last_name": "  Hopper "}`, want: "Hopper"},
		{name: "first name only", profile: `{"first_name": "Grace"}`, want: "Grace"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := json.RawMessage(`{"id": "x", "profile": ` + tt.profile + `}`)
			row, err := MapRegistration(raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, row.DisplayName())
		})
	}
}

func TestMapRegistration_Timestamps(t *testing.T) {
	tests := []struct {
		name    string
		created string
		want    string
		wantErr bool
	}{
		{name: "utc", created: "2018-05-12T02:00:00Z", want: "2018-05-12T02:00:00Z"},
		{name: "fractional", created: "2018-05-12T02:00:00.123Z", want: "2018-05-12T02:00:00.123Z"},
		{name: "offset", created: "2018-05-12T04:00:00.5+02:00", want: "2018-05-12T02:00:00.5Z"},
		{name: "no zone", created: "2018-05-12T02:00:00", want: "2018-05-12T02:00:00Z"},
		{name: "absent", created: "", want: ""},
		{name: "garbage", created: "yesterday", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, _ := json.Marshal(map[string]string{"id": "r1", "created": tt.created})
			row, err := MapRegistration(raw)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, syncerr.IsKind(err, syncerr.KindProtocol))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, row.(*Registration).RegisteredAt)
		})
	}
}

func TestMapRegistration_MissingID(t *testing.T) {
	for _, raw := range []string{`{}`, `{"id": ""}`, `{"id": null}`} {
		_, err := MapRegistration(json.RawMessage(raw))
		require.Error(t, err, raw)
		assert.True(t, syncerr.IsKind(err, syncerr.KindProtocol), raw)
	}
}

func TestMapRegistration_NotAnObject(t *testing.T) {
	_, err := MapRegistration(json.RawMessage(`"just a string"`))
	require.Error(t, err)
	assert.True(t, syncerr.IsKind(err, syncerr.KindProtocol))
}

func TestMapEvent(t *testing.T) {
	raw := json.RawMessage(`{
		"id": 555,
		"name": {"text": "Go Meetup", "html": "<b>Go Meetup</b>"},
		"url": "https://example.com/e/go-meetup-555",
		"start": {"timezone": "Europe/Berlin", "local": "2024-06-01T19:00:00", "utc": "2024-06-01T17:00:00Z"},
		"end": {"timezone": "Europe/Berlin", "local": "2024-06-01T21:00:00", "utc": "2024-06-01T19:00:00Z"},
		"status": "live",
		"online_event": false,
		"capacity": 120
	}`)

	row, err := MapEvent(raw)
	require.NoError(t, err)

	ev := row.(*Event)
	assert.Equal(t, "555", ev.RowID())
	assert.Equal(t, "Go Meetup", ev.DisplayName())
	assert.Equal(t, "https://example.com/e/go-meetup-555", ev.URL)
	assert.Equal(t, "2024-06-01T17:00:00Z", ev.StartTime)
	assert.Equal(t, "2024-06-01T19:00:00Z", ev.EndTime)
	assert.Equal(t, "Europe/Berlin", ev.Timezone)
	assert.Equal(t, "live", ev.Status)
	assert.Equal(t, 120, ev.Capacity)
}

func TestMapEvent_Untitled(t *testing.T) {
	row, err := MapEvent(json.RawMessage(`{"id": "e1", "name": {"text": "   "}}`))
	require.NoError(t, err)
	assert.Equal(t, UntitledEvent, row.DisplayName())

	row, err = MapEvent(json.RawMessage(`{"id": "e2"}`))
	require.NoError(t, err)
	assert.Equal(t, UntitledEvent, row.DisplayName())
}

func TestMapEvent_MissingID(t *testing.T) {
	_, err := MapEvent(json.RawMessage(`{"name": {"text": "No id"}}`))
	require.Error(t, err)
	assert.True(t, syncerr.IsKind(err, syncerr.KindProtocol))
}
