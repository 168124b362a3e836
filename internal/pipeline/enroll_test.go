package pipeline

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/kestrel-systems/faceaccess/internal/policy"
	"github.com/kestrel-systems/faceaccess/internal/protocol"
)

func encodedPhoto(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 300, 300))
	for y := 0; y < 300; y++ {
		for x := 0; x < 300; x++ {
			img.Set(x, y, color.RGBA{R: 120, G: 110, B: 100, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("jpeg.Encode: %v", err)
	}
	return buf.Bytes()
}

func newEnrollSession(t *testing.T, numPhotos int) *protocol.UpsertSession {
	t.Helper()
	start := time.Now().Add(-time.Hour).Format(time.RFC3339)
	end := time.Now().Add(time.Hour).Format(time.RFC3339)
	session := protocol.NewUpsertSession("EMP099", "Bob", start, end, numPhotos)
	for i := 0; i < numPhotos; i++ {
		photo := encodedPhoto(t)
		if _, err := session.AddChunk(photo, true, "", 1<<20); err != nil {
			t.Fatalf("AddChunk: %v", err)
		}
	}
	return session
}

func TestEnrollPersistsEmployeeAndEmbeddings(t *testing.T) {
	st := newTestStore(t)
	vector := make([]float32, 4)
	vector[0] = 1
	p := newPipeline(&fakeCamera{}, &fakeDetector{detections: goodDetections()}, fakeEmbedder{vector: vector}, st, newTestActuator(t))

	session := newEnrollSession(t, 2)
	n, err := p.Enroll(context.Background(), session)
	if err != nil {
		t.Fatalf("Enroll: %v", err)
	}
	if n != 2 {
		t.Fatalf("got %d embeddings, want 2", n)
	}

	emp, err := st.GetEmployee(context.Background(), "EMP099")
	if err != nil {
		t.Fatalf("GetEmployee: %v", err)
	}
	if emp == nil || emp.DisplayName != "Bob" {
		t.Fatalf("expected employee EMP099 to be persisted, got %+v", emp)
	}
}

func TestEnrollSkipsPhotosWithNoFaceAndFailsIfAllSkipped(t *testing.T) {
	st := newTestStore(t)
	p := newPipeline(&fakeCamera{}, &fakeDetector{detections: nil}, fakeEmbedder{vector: []float32{1, 0, 0, 0}}, st, newTestActuator(t))

	session := newEnrollSession(t, 1)
	if _, err := p.Enroll(context.Background(), session); err == nil {
		t.Fatal("expected an error when no photo yields a valid embedding")
	}
}

func TestEnrollRejectsBlurryPhotos(t *testing.T) {
	st := newTestStore(t)
	cfg := DefaultConfig()
	cfg.StableFrames = 1
	p := New(cfg, zerolog.Nop(), &fakeCamera{}, &fakeDetector{detections: goodDetections()}, fakeAligner{}, fakeEmbedder{vector: []float32{1, 0, 0, 0}}, policy.New(policy.DefaultConfig()), st, newTestActuator(t))

	// encodedPhoto is a single flat color, so its Laplacian-variance blur
	// score is 0 and must be rejected by the default (non-overridden)
	// blur threshold, the same gate the recognition loop enforces.
	session := newEnrollSession(t, 1)
	if _, err := p.Enroll(context.Background(), session); err == nil {
		t.Fatal("expected a flat, blurry registration photo to be rejected")
	}
}

func TestEnrollRecordsSessionIDInAuditMetadata(t *testing.T) {
	st := newTestStore(t)
	p := newPipeline(&fakeCamera{}, &fakeDetector{detections: goodDetections()}, fakeEmbedder{vector: []float32{1, 0, 0, 0}}, st, newTestActuator(t))

	session := newEnrollSession(t, 1)
	if _, err := p.Enroll(context.Background(), session); err != nil {
		t.Fatalf("Enroll: %v", err)
	}

	logs, err := st.GetAuditLogs(context.Background(), nil, nil, nil, 10)
	if err != nil {
		t.Fatalf("GetAuditLogs: %v", err)
	}
	if len(logs) != 1 || logs[0].EventType != "admin_command" {
		t.Fatalf("expected one admin_command audit record, got %+v", logs)
	}
	if logs[0].Metadata["session_id"] != session.SessionID {
		t.Fatalf("expected metadata session_id %q, got %v", session.SessionID, logs[0].Metadata["session_id"])
	}
}

func TestEnrollPersistsBothEmployeesWithDuplicateDisplayNames(t *testing.T) {
	st := newTestStore(t)
	p := newPipeline(&fakeCamera{}, &fakeDetector{detections: goodDetections()}, fakeEmbedder{vector: []float32{1, 0, 0, 0}}, st, newTestActuator(t))

	first := newEnrollSession(t, 1)
	first.EmployeeID = "EMP001"
	first.DisplayName = "Jiri Novak"
	if _, err := p.Enroll(context.Background(), first); err != nil {
		t.Fatalf("Enroll first: %v", err)
	}

	second := newEnrollSession(t, 1)
	second.EmployeeID = "EMP002"
	second.DisplayName = "Jiří Novák"
	if _, err := p.Enroll(context.Background(), second); err != nil {
		t.Fatalf("Enroll second: %v", err)
	}

	// warnOnDuplicateName only logs; both employees must still be persisted.
	if emp, err := st.GetEmployee(context.Background(), "EMP001"); err != nil || emp == nil {
		t.Fatalf("expected EMP001 to be persisted: %v, %+v", err, emp)
	}
	if emp, err := st.GetEmployee(context.Background(), "EMP002"); err != nil || emp == nil {
		t.Fatalf("expected EMP002 to be persisted: %v, %+v", err, emp)
	}
}

func TestEnrollRejectsInvalidAccessWindow(t *testing.T) {
	st := newTestStore(t)
	p := newPipeline(&fakeCamera{}, &fakeDetector{detections: goodDetections()}, fakeEmbedder{vector: []float32{1, 0, 0, 0}}, st, newTestActuator(t))

	session := protocol.NewUpsertSession("EMP100", "Carl", "not-a-timestamp", "also-not-a-timestamp", 1)
	if _, err := session.AddChunk(encodedPhoto(t), true, "", 1<<20); err != nil {
		t.Fatalf("AddChunk: %v", err)
	}

	if _, err := p.Enroll(context.Background(), session); err == nil {
		t.Fatal("expected an error for an unparsable access window")
	}
}
