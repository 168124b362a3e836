package pipeline

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	_ "image/jpeg"
	"time"

	"github.com/rs/zerolog"

	"github.com/kestrel-systems/faceaccess/internal/face"
	"github.com/kestrel-systems/faceaccess/internal/protocol"
	"github.com/kestrel-systems/faceaccess/internal/store"
	"github.com/kestrel-systems/faceaccess/internal/textnorm"
)

type enrolledEmbedding struct {
	vector    []float32
	photoHash string
}

// Enroll runs the detect -> quality -> align -> embed path over every
// photo in a completed upsert session and persists the employee with
// whichever photos yield a valid embedding. It returns the number of
// embeddings stored. A photo that fails any stage is skipped and logged,
// not fatal to the session.
func (p *Pipeline) Enroll(ctx context.Context, session *protocol.UpsertSession) (int, error) {
	log := p.log.With().Str("session_id", session.SessionID).Logger()

	start, err := time.Parse(time.RFC3339, session.AccessStart)
	if err != nil {
		return 0, fmt.Errorf("invalid access_start: %w", err)
	}
	end, err := time.Parse(time.RFC3339, session.AccessEnd)
	if err != nil {
		return 0, fmt.Errorf("invalid access_end: %w", err)
	}

	var embeddings []enrolledEmbedding
	for i, photo := range session.Photos {
		vector, err := p.embedPhoto(ctx, photo)
		if err != nil {
			log.Warn().Err(err).Int("photo_index", i).Msg("skipping photo during enrollment")
			continue
		}
		sum := sha256.Sum256(photo)
		embeddings = append(embeddings, enrolledEmbedding{vector: vector, photoHash: hex.EncodeToString(sum[:])})
	}

	if len(embeddings) == 0 {
		return 0, fmt.Errorf("no valid embeddings extracted from photos")
	}

	displayName := textnorm.DisplayName(session.DisplayName)
	p.warnOnDuplicateName(ctx, log, session.EmployeeID, displayName)

	if err := p.st.UpsertEmployee(ctx, session.EmployeeID, displayName, start, end, true); err != nil {
		return 0, err
	}
	if err := p.st.DeleteEmbeddings(ctx, session.EmployeeID); err != nil {
		return 0, err
	}

	for _, e := range embeddings {
		if _, err := p.st.AddEmbedding(ctx, session.EmployeeID, e.vector, e.photoHash); err != nil {
			return 0, err
		}
	}

	log.Info().Str("employee_id", session.EmployeeID).Int("embeddings", len(embeddings)).Msg("registration complete")
	p.st.LogAccessAttempt(ctx, store.AuditRecord{
		Timestamp:  time.Now(),
		EventType:  "admin_command",
		EmployeeID: session.EmployeeID,
		Result:     "granted",
		Reason:     "employee registered",
		Metadata:   map[string]any{"session_id": session.SessionID, "embeddings": len(embeddings)},
	})
	return len(embeddings), nil
}

// warnOnDuplicateName flags, without blocking, when the case/diacritic-
// insensitive form of a new display name already belongs to a different
// active employee -- the same person may have been registered twice under
// different ids, which an operator should know about even though
// duplicate names are not themselves invalid.
func (p *Pipeline) warnOnDuplicateName(ctx context.Context, log zerolog.Logger, employeeID, displayName string) {
	if displayName == "" {
		return
	}
	comparable := textnorm.ComparableName(displayName)

	existing, err := p.st.GetActiveEmployeesWithEmbeddings(ctx)
	if err != nil {
		return
	}
	for _, e := range existing {
		if e.Employee.ID == employeeID {
			continue
		}
		if textnorm.ComparableName(e.Employee.DisplayName) == comparable {
			log.Warn().Str("employee_id", employeeID).Str("conflicting_employee_id", e.Employee.ID).
				Msg("display name matches another active employee")
		}
	}
}

func (p *Pipeline) embedPhoto(ctx context.Context, photo []byte) ([]float32, error) {
	img, _, err := image.Decode(bytes.NewReader(photo))
	if err != nil {
		return nil, fmt.Errorf("decode photo: %w", err)
	}

	detections, err := p.detector.Detect(ctx, img)
	if err != nil {
		return nil, fmt.Errorf("detect: %w", err)
	}

	var blur float64
	if len(detections) > 0 {
		box, _ := face.Largest(boxesOf(detections))
		gray, gw, gh := face.GrayscaleCrop(img, box)
		blur = face.BlurMetric(gray, gw, gh)
	}

	bounds := img.Bounds()
	accepted, err := face.ValidateQuality(detections, bounds.Dx(), bounds.Dy(), blur, p.cfg.Quality)
	if err != nil {
		return nil, fmt.Errorf("quality: %w", err)
	}

	aligned, err := p.aligner.Align(img, accepted.Box)
	if err != nil {
		return nil, fmt.Errorf("align: %w", err)
	}

	embedding, err := p.embedder.Embed(ctx, aligned)
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}
	return embedding, nil
}
