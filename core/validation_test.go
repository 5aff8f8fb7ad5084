package core

import (
	"errors"
	"testing"
	"time"
)

func TestValidateRawEmail(t *testing.T) {
	validTime := time.Now().Add(-1 * time.Hour)
	futureTime := time.Now().Add(1 * time.Hour)

	tests := []struct {
		name    string
		raw     *RawEmail
		wantErr error
	}{
		{
			name: "valid payload",
			raw: &RawEmail{
				Sender:     "jobs@techcorp.com",
				Subject:    "Your application",
				BodyText:   "Thanks for applying",
				ReceivedAt: validTime,
			},
			wantErr: nil,
		},
		{
			name: "subject only",
			raw: &RawEmail{
				Sender:     "jobs@techcorp.com",
				Subject:    "Interview",
				ReceivedAt: validTime,
			},
			wantErr: nil,
		},
		{
			name:    "nil payload",
			raw:     nil,
			wantErr: ErrInvalidRawEmail,
		},
		{
			name: "empty sender",
			raw: &RawEmail{
				Sender:     "  ",
				Subject:    "Hello",
				ReceivedAt: validTime,
			},
			wantErr: ErrEmptySender,
		},
		{
			name: "no content",
			raw: &RawEmail{
				Sender:     "jobs@techcorp.com",
				ReceivedAt: validTime,
			},
			wantErr: ErrEmptyContent,
		},
		{
			name: "zero timestamp",
			raw: &RawEmail{
				Sender:  "jobs@techcorp.com",
				Subject: "Hello",
			},
			wantErr: ErrInvalidTimestamp,
		},
		{
			name: "future timestamp",
			raw: &RawEmail{
				Sender:     "jobs@techcorp.com",
				Subject:    "Hello",
				ReceivedAt: futureTime,
			},
			wantErr: ErrInvalidTimestamp,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRawEmail(tt.raw)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("ValidateRawEmail() unexpected error = %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateRawEmail() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateEmailRecord(t *testing.T) {
	valid := func() *EmailRecord {
		return &EmailRecord{
			Sender:      "jobs@techcorp.com",
			Fingerprint: "abc",
			Confidence:  0.5,
			State:       StatePending,
		}
	}

	tests := []struct {
		name    string
		mutate  func(r *EmailRecord)
		wantErr error
	}{
		{"valid", func(r *EmailRecord) {}, nil},
		{"processed", func(r *EmailRecord) { r.State = StateProcessed }, nil},
		{"missing fingerprint", func(r *EmailRecord) { r.Fingerprint = "" }, ErrInvalidEmailRecord},
		{"missing sender", func(r *EmailRecord) { r.Sender = "" }, ErrEmptySender},
		{"confidence too high", func(r *EmailRecord) { r.Confidence = 1.5 }, ErrInvalidConfidence},
		{"confidence negative", func(r *EmailRecord) { r.Confidence = -0.1 }, ErrInvalidConfidence},
		{"bad state", func(r *EmailRecord) { r.State = 0 }, ErrInvalidState},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := valid()
			tt.mutate(rec)
			err := ValidateEmailRecord(rec)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("ValidateEmailRecord() unexpected error = %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateEmailRecord() error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	if err := ValidateEmailRecord(nil); !errors.Is(err, ErrInvalidEmailRecord) {
		t.Errorf("ValidateEmailRecord(nil) error = %v", err)
	}
}

func TestIsValidTimestamp(t *testing.T) {
	if IsValidTimestamp(time.Time{}) {
		t.Errorf("zero time should be invalid")
	}
	if IsValidTimestamp(time.Now().Add(time.Hour)) {
		t.Errorf("future time should be invalid")
	}
	if !IsValidTimestamp(time.Now().Add(-time.Minute)) {
		t.Errorf("past time should be valid")
	}
}
