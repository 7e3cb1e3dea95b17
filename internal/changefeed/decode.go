package changefeed

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prudhvinik1/inboxsync/internal/models"
)

// wireChange is the payload shape shared by the Postgres trigger, the Redis
// publisher and the managed realtime service.
type wireChange struct {
	Type      string   `json:"type"`
	Record    *wireRow `json:"record"`
	OldRecord *wireRow `json:"old_record"`
}

type wireRow struct {
	ID            *string `json:"id"`
	UserID        *string `json:"user_id"`
	Channel       *string `json:"channel"`
	ClientID      *string `json:"client_id"`
	LastMessageAt *string `json:"last_message_at"`
	Status        *string `json:"status"`
	CreatedAt     *string `json:"created_at"`
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999Z07",
	"2006-01-02 15:04:05.999999999",
}

func parseTime(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

func (r *wireRow) patch() (models.ConversationPatch, error) {
	var p models.ConversationPatch

	parseID := func(field string, v *string) (*uuid.UUID, error) {
		if v == nil || *v == "" {
			return nil, nil
		}
		id, err := uuid.Parse(*v)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid %s: %v", ErrMalformed, field, err)
		}
		return &id, nil
	}
	parseTS := func(field string, v *string) (*time.Time, error) {
		if v == nil || *v == "" {
			return nil, nil
		}
		t, err := parseTime(*v)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid %s: %v", ErrMalformed, field, err)
		}
		return &t, nil
	}

	var err error
	if p.ID, err = parseID("id", r.ID); err != nil {
		return p, err
	}
	if p.UserID, err = parseID("user_id", r.UserID); err != nil {
		return p, err
	}
	if p.ClientID, err = parseID("client_id", r.ClientID); err != nil {
		return p, err
	}
	if p.LastMessageAt, err = parseTS("last_message_at", r.LastMessageAt); err != nil {
		return p, err
	}
	if p.CreatedAt, err = parseTS("created_at", r.CreatedAt); err != nil {
		return p, err
	}
	if r.Channel != nil {
		ch := models.Channel(*r.Channel)
		p.Channel = &ch
	}
	if r.Status != nil {
		st := models.ConversationStatus(*r.Status)
		p.Status = &st
	}
	return p, nil
}

// DecodeEvent parses one wire payload. Unknown event types and rows without
// an id are reported as ErrMalformed.
func DecodeEvent(data []byte) (models.ChangeEvent, error) {
	var w wireChange
	if err := json.Unmarshal(data, &w); err != nil {
		return models.ChangeEvent{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return w.event()
}

func (w wireChange) event() (models.ChangeEvent, error) {
	switch models.EventType(strings.ToUpper(w.Type)) {
	case models.EventInserted:
		p, err := w.newRow()
		if err != nil {
			return models.ChangeEvent{}, err
		}
		return models.Inserted(p.Conversation()), nil
	case models.EventUpdated:
		p, err := w.newRow()
		if err != nil {
			return models.ChangeEvent{}, err
		}
		return models.Updated(p), nil
	case models.EventDeleted:
		if w.OldRecord == nil {
			return models.ChangeEvent{}, fmt.Errorf("%w: delete without old_record", ErrMalformed)
		}
		p, err := w.OldRecord.patch()
		if err != nil {
			return models.ChangeEvent{}, err
		}
		if p.ID == nil {
			return models.ChangeEvent{}, fmt.Errorf("%w: delete without id", ErrMalformed)
		}
		return models.Deleted(*p.ID), nil
	}
	return models.ChangeEvent{}, fmt.Errorf("%w: unknown event type %q", ErrMalformed, w.Type)
}

func (w wireChange) newRow() (models.ConversationPatch, error) {
	if w.Record == nil {
		return models.ConversationPatch{}, fmt.Errorf("%w: %s without record", ErrMalformed, w.Type)
	}
	p, err := w.Record.patch()
	if err != nil {
		return p, err
	}
	if p.ID == nil {
		return p, fmt.Errorf("%w: %s without id", ErrMalformed, w.Type)
	}
	return p, nil
}

// EncodeEvent renders ev in the wire format DecodeEvent reads.
func EncodeEvent(ev models.ChangeEvent) ([]byte, error) {
	w := wireChange{Type: string(ev.Type)}
	switch ev.Type {
	case models.EventInserted, models.EventUpdated:
		w.Record = rowOf(ev.Row)
	case models.EventDeleted:
		id := ev.ID.String()
		w.OldRecord = &wireRow{ID: &id}
	default:
		return nil, fmt.Errorf("%w: unknown event type %q", ErrMalformed, ev.Type)
	}
	return json.Marshal(w)
}

func rowOf(p models.ConversationPatch) *wireRow {
	r := &wireRow{}
	str := func(s string) *string { return &s }
	if p.ID != nil {
		r.ID = str(p.ID.String())
	}
	if p.UserID != nil {
		r.UserID = str(p.UserID.String())
	}
	if p.ClientID != nil {
		r.ClientID = str(p.ClientID.String())
	}
	if p.Channel != nil {
		r.Channel = str(string(*p.Channel))
	}
	if p.Status != nil {
		r.Status = str(string(*p.Status))
	}
	if p.LastMessageAt != nil {
		r.LastMessageAt = str(p.LastMessageAt.Format(time.RFC3339Nano))
	}
	if p.CreatedAt != nil {
		r.CreatedAt = str(p.CreatedAt.Format(time.RFC3339Nano))
	}
	return r
}
