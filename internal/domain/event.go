package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Event is the canonical form of one upstream frame.
type Event struct {
	Topic   string
	Kind    string
	Payload Payload
}

// Payload carries the optional per-kind fields of an event.
type Payload struct {
	Title              string
	Text               string
	Link               string
	ScheduledStartTime string
	ActualStartTime    string
	Images             []string
}

// wireEvent mirrors the upstream frame: {"vtuber": topic, "type": kind, "data": {...}}.
// Pointers distinguish absent fields from empty ones.
type wireEvent struct {
	Topic *string      `json:"vtuber"`
	Kind  *string      `json:"type"`
	Data  *wirePayload `json:"data"`
}

type wirePayload struct {
	Title              looseString `json:"title"`
	Text               looseString `json:"text"`
	Link               looseString `json:"link"`
	ScheduledStartTime looseString `json:"scheduled_start_time"`
	ActualStartTime    looseString `json:"actual_start_time"`
	Images             []string    `json:"images"`
}

// looseString accepts a JSON string, number or null.
// Upstream producers are not consistent about timestamps: some send
// "2021-01-01 20:00", others a unix number.
type looseString string

func (s *looseString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		*s = ""
		return nil
	case len(b) > 0 && b[0] == '"':
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = looseString(v)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", b)
	}
	*s = looseString(n.String())
	return nil
}

// DecodeEvent parses a raw frame into an Event.
// Any structural problem yields an error wrapping ErrMalformedEvent; a
// partially populated Event is never returned.
func DecodeEvent(raw []byte) (Event, error) {
	var w wireEvent
	if err := json.Unmarshal(raw, &w); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if w.Topic == nil {
		return Event{}, fmt.Errorf("%w: missing vtuber", ErrMalformedEvent)
	}
	if w.Kind == nil {
		return Event{}, fmt.Errorf("%w: missing type", ErrMalformedEvent)
	}
	if w.Data == nil {
		return Event{}, fmt.Errorf("%w: missing data", ErrMalformedEvent)
	}

	images := make([]string, 0, len(w.Data.Images))
	for _, img := range w.Data.Images {
		if img = strings.TrimSpace(img); img != "" {
			images = append(images, img)
		}
	}

	return Event{
		Topic: *w.Topic,
		Kind:  *w.Kind,
		Payload: Payload{
			Title:              string(w.Data.Title),
			Text:               string(w.Data.Text),
			Link:               string(w.Data.Link),
			ScheduledStartTime: string(w.Data.ScheduledStartTime),
			ActualStartTime:    string(w.Data.ActualStartTime),
			Images:             images,
		},
	}, nil
}
