package usage

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/contentstudio-backend/pkg/enums"
	"github.com/angelmondragon/contentstudio-backend/pkg/logger"
	"github.com/angelmondragon/contentstudio-backend/pkg/outbox"
	"github.com/angelmondragon/contentstudio-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/contentstudio-backend/pkg/outbox/registry"
)

type stubWriter struct {
	rows []Row
	err  error
}

func (w *stubWriter) Insert(_ context.Context, row Row) error {
	if w.err != nil {
		return w.err
	}
	w.rows = append(w.rows, row)
	return nil
}

type stubManager struct {
	duplicate bool
	claimErr  error
	checked   []string
	deleted   []string
}

func (s *stubManager) Claim(_ context.Context, _ string, id string) (bool, error) {
	s.checked = append(s.checked, id)
	return !s.duplicate, s.claimErr
}

func (s *stubManager) Release(_ context.Context, _ string, id string) error {
	s.deleted = append(s.deleted, id)
	return nil
}

func newTestWorker(t *testing.T, writer *stubWriter, manager *stubManager) *Worker {
	t.Helper()
	pricing, err := NewPricing("0.01")
	if err != nil {
		t.Fatalf("pricing: %v", err)
	}
	return &Worker{
		decoders: registry.NewStudioDecoders(),
		pricing:  pricing,
		writer:   writer,
		manager:  manager,
		logg:     logger.New(logger.Options{ServiceName: "usage-test", Output: io.Discard}),
	}
}

func jobMessage(t *testing.T, eventID string, credits int64) []byte {
	t.Helper()
	data, err := json.Marshal(payloads.JobSettledEvent{
		JobID:         uuid.New(),
		WorkspaceID:   uuid.New(),
		JobType:       enums.JobTypeText,
		Status:        enums.JobStatusCompleted,
		CreditsActual: credits,
	})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	raw, err := json.Marshal(outbox.PayloadEnvelope{
		Version:    1,
		EventID:    eventID,
		OccurredAt: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC),
		Data:       data,
	})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return raw
}

var jobAttrs = map[string]string{"event_type": string(enums.EventJobCompleted)}

func TestWorkerRecordsUsage(t *testing.T) {
	writer, manager := &stubWriter{}, &stubManager{}
	w := newTestWorker(t, writer, manager)

	res := w.process(context.Background(), "msg-1", jobAttrs, jobMessage(t, uuid.NewString(), 4))
	if res.nack {
		t.Fatal("expected ack")
	}
	if len(writer.rows) != 1 {
		t.Fatalf("expected one row, got %d", len(writer.rows))
	}
	row := writer.rows[0]
	if row.Kind != KindGeneration || row.Credits != 4 || row.CostUSD.FloatString(2) != "0.04" {
		t.Fatalf("unexpected row %+v", row)
	}
	if !row.OccurredAt.Equal(time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected envelope time, got %s", row.OccurredAt)
	}
}

func TestWorkerSkipsDuplicates(t *testing.T) {
	writer, manager := &stubWriter{}, &stubManager{duplicate: true}
	w := newTestWorker(t, writer, manager)

	if res := w.process(context.Background(), "msg-1", jobAttrs, jobMessage(t, uuid.NewString(), 4)); res.nack {
		t.Fatal("duplicates are acked")
	}
	if len(writer.rows) != 0 {
		t.Fatal("duplicate must not be written")
	}
}

func TestWorkerNacksAndReleasesOnWriteFailure(t *testing.T) {
	writer, manager := &stubWriter{err: errors.New("bigquery down")}, &stubManager{}
	w := newTestWorker(t, writer, manager)

	if res := w.process(context.Background(), "msg-1", jobAttrs, jobMessage(t, uuid.NewString(), 1)); !res.nack {
		t.Fatal("expected nack")
	}
	if len(manager.deleted) != 1 {
		t.Fatal("idempotency marker must be released for redelivery")
	}
}

func TestWorkerAcksUnusableMessages(t *testing.T) {
	cases := []struct {
		name  string
		attrs map[string]string
		data  []byte
	}{
		{name: "unknown type", attrs: map[string]string{"event_type": "order_paid"}, data: []byte(`{}`)},
		{name: "bad json", attrs: jobAttrs, data: []byte("nope")},
		{name: "bad event id", attrs: jobAttrs, data: jobMessage(t, "not-a-uuid", 1)},
		{name: "no usage", attrs: map[string]string{"event_type": string(enums.EventCreditsLow)}, data: []byte(`{"version":1,"eventId":"` + uuid.NewString() + `","data":{}}`)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			writer, manager := &stubWriter{}, &stubManager{}
			w := newTestWorker(t, writer, manager)
			if res := w.process(context.Background(), "msg", tc.attrs, tc.data); res.nack {
				t.Fatal("expected ack")
			}
			if len(manager.checked) != 0 || len(writer.rows) != 0 {
				t.Fatal("unusable messages must not touch idempotency or the writer")
			}
		})
	}
}
