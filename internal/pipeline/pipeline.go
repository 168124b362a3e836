// Package pipeline implements the per-frame recognition loop: acquire,
// detect, gate on stability, align, embed, match, decide, actuate.
package pipeline

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/kestrel-systems/faceaccess/internal/actuator"
	"github.com/kestrel-systems/faceaccess/internal/camera"
	"github.com/kestrel-systems/faceaccess/internal/constants"
	"github.com/kestrel-systems/faceaccess/internal/face"
	"github.com/kestrel-systems/faceaccess/internal/matcher"
	"github.com/kestrel-systems/faceaccess/internal/policy"
	"github.com/kestrel-systems/faceaccess/internal/store"
)

// Config bundles the recognition loop's tunables, all defaulted from
// internal/constants unless overridden by configuration.
type Config struct {
	MaxReadFailures   int
	MaxReopenAttempts int
	StableFrames      int
	PositionTolerance float64
	SimilarityThreshold float64
	Quality           face.QualityConfig
	InputSize         int
}

func DefaultConfig() Config {
	return Config{
		MaxReadFailures:     constants.DefaultMaxReadFailures,
		MaxReopenAttempts:   constants.DefaultMaxReopenAttempts,
		StableFrames:        constants.DefaultStableFrames,
		PositionTolerance:   constants.DefaultPositionTolerancePx,
		SimilarityThreshold: 0.5,
		Quality:             face.DefaultQualityConfig(),
		InputSize:           112,
	}
}

// Pipeline owns one recognition loop tying the camera, face stages,
// matcher, policy, store, and actuator together.
type Pipeline struct {
	cfg Config
	log zerolog.Logger

	cam      camera.Camera
	detector face.Detector
	aligner  face.Aligner
	embedder face.Embedder
	pol      *policy.Policy
	st       *store.Store
	act      *actuator.Actuator

	stableCount  int
	lastBox      *face.BBox
	readFailures int
	reopenCount  int
}

// New wires a Pipeline's collaborators. cam must already be unopened;
// Run opens it.
func New(cfg Config, log zerolog.Logger, cam camera.Camera, detector face.Detector, aligner face.Aligner, embedder face.Embedder, pol *policy.Policy, st *store.Store, act *actuator.Actuator) *Pipeline {
	return &Pipeline{cfg: cfg, log: log, cam: cam, detector: detector, aligner: aligner, embedder: embedder, pol: pol, st: st, act: act}
}

// Run executes the recognition loop until ctx is cancelled or the abort
// ladder (MaxReadFailures consecutive frame errors, MaxReopenAttempts
// consecutive failed reopens) is exhausted.
func (p *Pipeline) Run(ctx context.Context) error {
	if err := p.cam.Open(); err != nil {
		return err
	}
	defer p.cam.Release()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if err := p.step(ctx); err != nil {
			return err
		}
	}
}

// step runs exactly one iteration of the recognition state machine.
func (p *Pipeline) step(ctx context.Context) error {
	frame, ok := p.cam.ReadLatest()
	if !ok {
		if err := p.handleReadFailure(); err != nil {
			return err
		}
		sleep(constants.NoFaceSleepMillis)
		return nil
	}
	p.readFailures = 0

	detections, err := p.detector.Detect(ctx, frame.Image)
	if err != nil || len(detections) == 0 {
		p.resetStability()
		sleep(constants.NoFaceSleepMillis)
		return nil
	}

	box, _ := face.Largest(boxesOf(detections))
	if !p.stabilityGate(box) {
		sleep(constants.UnstableSleepMillis)
		return nil
	}

	gray, gw, gh := face.GrayscaleCrop(frame.Image, box)
	blur := face.BlurMetric(gray, gw, gh)

	accepted, err := face.ValidateQuality(detections, frame.Image.Bounds().Dx(), frame.Image.Bounds().Dy(), blur, p.cfg.Quality)
	if err != nil {
		p.resetStability()
		sleep(constants.UnstableSleepMillis)
		return nil
	}

	aligned, err := p.aligner.Align(frame.Image, accepted.Box)
	if err != nil {
		p.resetStability()
		return nil
	}

	embedding, err := p.embedder.Embed(ctx, aligned)
	if err != nil {
		p.resetStability()
		return nil
	}

	candidates, err := p.loadCandidates(ctx)
	if err != nil {
		p.resetStability()
		return nil
	}
	candidates = narrowCandidates(candidates, embedding)

	result := matcher.Match(embedding, candidates, p.cfg.SimilarityThreshold)

	var emp *store.Employee
	if result.Matched {
		emp, err = p.st.GetEmployee(ctx, result.EmployeeID)
		if err != nil {
			emp = nil
		}
	}

	decision := p.pol.ProcessAccessAttempt(emp, result.Score, p.cfg.SimilarityThreshold)
	p.audit(ctx, result, decision)

	if decision.Granted {
		p.act.Unlock(0)
		p.resetStability()
		sleep(int(constants.DefaultGlobalCooldownSeconds * 1000))
		return nil
	}

	p.resetStability()
	sleep(constants.DeniedSleepMillis)
	return nil
}

func (p *Pipeline) loadCandidates(ctx context.Context) ([]matcher.Candidate, error) {
	employees, err := p.st.GetActiveEmployeesWithEmbeddings(ctx)
	if err != nil {
		return nil, err
	}
	candidates := make([]matcher.Candidate, 0, len(employees))
	for _, e := range employees {
		candidates = append(candidates, matcher.Candidate{Employee: e.Employee, Embeddings: e.Embeddings})
	}
	return candidates, nil
}

func (p *Pipeline) audit(ctx context.Context, result matcher.Result, decision policy.Decision) {
	rec := store.AuditRecord{
		Timestamp: time.Now(),
		EventType: "face_recognition",
		Result:    auditResult(decision.Granted),
		Reason:    decision.Reason,
	}
	if result.Matched {
		rec.MatchedEmployeeID = result.EmployeeID
		score := result.Score
		rec.SimilarityScore = &score
	}
	p.st.LogAccessAttempt(ctx, rec)
}

func auditResult(granted bool) string {
	if granted {
		return "granted"
	}
	return "denied"
}

func (p *Pipeline) resetStability() {
	p.stableCount = 0
	p.lastBox = nil
}

// stabilityGate tracks the previous chosen bounding box; it returns true
// once StableFrames consecutive detections fall within PositionTolerance
// of each other.
func (p *Pipeline) stabilityGate(box face.BBox) bool {
	if p.lastBox != nil && face.WithinPositionTolerance(*p.lastBox, box, p.cfg.PositionTolerance) {
		p.stableCount++
	} else {
		p.stableCount = 1
	}
	b := box
	p.lastBox = &b
	return p.stableCount >= p.cfg.StableFrames
}

func (p *Pipeline) handleReadFailure() error {
	p.readFailures++
	if p.readFailures < p.cfg.MaxReadFailures {
		return nil
	}

	p.readFailures = 0
	if err := p.cam.Release(); err != nil {
		p.log.Warn().Err(err).Msg("camera release before reopen failed")
	}
	if err := p.cam.Open(); err != nil {
		p.reopenCount++
		if p.reopenCount >= p.cfg.MaxReopenAttempts {
			return err
		}
		return nil
	}
	p.reopenCount = 0
	return nil
}

func boxesOf(detections []face.Detection) []face.BBox {
	boxes := make([]face.BBox, len(detections))
	for i, d := range detections {
		boxes[i] = d.Box
	}
	return boxes
}

func sleep(ms int) {
	time.Sleep(time.Duration(ms) * time.Millisecond)
}

// narrowCandidates prefilters the active roster through an approximate
// index once it grows past ANNActivationThreshold, so a per-frame match
// stays cheap as the roster scales. Below the threshold a linear scan
// through Match is already fast enough and building the index would only
// add overhead.
func narrowCandidates(candidates []matcher.Candidate, embedding []float32) []matcher.Candidate {
	if len(candidates) <= constants.ANNActivationThreshold {
		return candidates
	}
	idx := matcher.NewIndex()
	idx.BuildFromCandidates(candidates)
	return idx.Candidates(embedding, constants.ANNCandidateK)
}
