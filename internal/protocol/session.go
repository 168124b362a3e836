package protocol

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// UpsertSession accumulates photo chunks for an in-progress BEGIN_UPSERT
// .. END_UPSERT sequence. Only one session is active at a time; any other
// command referencing a session while none is active is rejected by the
// dispatcher before reaching here.
type UpsertSession struct {
	SessionID      string
	EmployeeID     string
	DisplayName    string
	AccessStart    string
	AccessEnd      string
	NumPhotos      int
	PhotosReceived int
	Photos         [][]byte

	chunkBuf []byte
}

// NewUpsertSession starts a session for a BEGIN_UPSERT request, stamping it
// with a stable id used to correlate its log lines and audit metadata for
// as long as the session stays open.
func NewUpsertSession(employeeID, displayName, start, end string, numPhotos int) *UpsertSession {
	return &UpsertSession{
		SessionID:   uuid.NewString(),
		EmployeeID:  employeeID,
		DisplayName: displayName,
		AccessStart: start,
		AccessEnd:   end,
		NumPhotos:   numPhotos,
	}
}

// AddChunk appends a decoded chunk to the current photo's accumulator. On
// the last chunk it verifies the sha256 and, on success, appends the
// completed photo to Photos and resets the accumulator for the next
// photo. A hash mismatch clears only the current accumulator, leaving
// already-received photos and session state intact so the same photo can
// be retried.
func (s *UpsertSession) AddChunk(data []byte, isLast bool, expectedSHA256 string, maxPhotoSize int) (photosReceived int, err error) {
	if len(s.chunkBuf)+len(data) > maxPhotoSize {
		s.chunkBuf = nil
		return s.PhotosReceived, fmt.Errorf("photo size exceeds limit")
	}
	s.chunkBuf = append(s.chunkBuf, data...)

	if !isLast {
		return s.PhotosReceived, nil
	}

	photo := s.chunkBuf
	s.chunkBuf = nil

	if expectedSHA256 != "" {
		sum := sha256.Sum256(photo)
		if hex.EncodeToString(sum[:]) != expectedSHA256 {
			return s.PhotosReceived, fmt.Errorf("photo hash mismatch")
		}
	}

	s.Photos = append(s.Photos, photo)
	s.PhotosReceived++
	return s.PhotosReceived, nil
}

// ReadyToFinish reports whether all declared photos have been received.
func (s *UpsertSession) ReadyToFinish() bool {
	return s.PhotosReceived == s.NumPhotos
}
