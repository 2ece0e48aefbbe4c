package engine

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		env     Envelope
		wantErr error
		check   func(t *testing.T, ev any)
	}{
		{
			name: "rating created",
			env: Envelope{
				Type: EventRatingCreated,
				Data: json.RawMessage(`{"id":"r1","raterUid":"a","ratedUid":"b","stars":4}`),
			},
			check: func(t *testing.T, ev any) {
				r, ok := ev.(*RatingCreated)
				if !ok {
					t.Fatalf("decoded %T, want *RatingCreated", ev)
				}
				if r.RatedUID != "b" || r.Stars != 4 {
					t.Errorf("got %+v", r)
				}
			},
		},
		{
			name: "message created",
			env: Envelope{
				Type: EventMessageCreated,
				Data: json.RawMessage(`{"message":{"from":"a","chatId":"c1","type":"file"}}`),
			},
			check: func(t *testing.T, ev any) {
				m, ok := ev.(*MessageCreated)
				if !ok {
					t.Fatalf("decoded %T, want *MessageCreated", ev)
				}
				if m.Message.From != "a" || m.Message.Type != "file" {
					t.Errorf("got %+v", m)
				}
			},
		},
		{
			name: "flag created",
			env: Envelope{
				Type: EventFlagCreated,
				Data: json.RawMessage(`{"id":"f1","fromUid":"a","toUid":"b","reason":"spam"}`),
			},
			check: func(t *testing.T, ev any) {
				f, ok := ev.(*FlagCreated)
				if !ok {
					t.Fatalf("decoded %T, want *FlagCreated", ev)
				}
				if f.ToUID != "b" || f.Reason != "spam" {
					t.Errorf("got %+v", f)
				}
			},
		},
		{
			name: "file uploaded",
			env: Envelope{
				Type: EventFileUploaded,
				Data: json.RawMessage(`{"name":"chatFiles/c1/u1/photo.jpg"}`),
			},
			check: func(t *testing.T, ev any) {
				f, ok := ev.(*FileUploaded)
				if !ok {
					t.Fatalf("decoded %T, want *FileUploaded", ev)
				}
				if f.Name != "chatFiles/c1/u1/photo.jpg" {
					t.Errorf("got %+v", f)
				}
			},
		},
		{
			name: "unknown type",
			env: Envelope{
				Type: EventType("user.deleted"),
				Data: json.RawMessage(`{}`),
			},
			wantErr: ErrUnknownEvent,
		},
		{
			name: "malformed payload",
			env: Envelope{
				Type: EventRatingCreated,
				Data: json.RawMessage(`{"stars":"four"}`),
			},
			wantErr: ErrMalformedEvent,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := Decode(tt.env)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Decode error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			tt.check(t, ev)
		})
	}
}

func TestUploaderFromPath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"chatFiles/c1/u1/photo.jpg", "u1"},
		{"chatFiles/c1/u1/nested/dir/doc.pdf", "u1"},
		{"chatFiles/c1/photo.jpg", ""},
		{"avatars/u1/photo.jpg", ""},
		{"chatFiles//u1/photo.jpg", ""},
		{"chatFiles/c1//photo.jpg", ""},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := UploaderFromPath(tt.path); got != tt.want {
				t.Errorf("UploaderFromPath(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}
