package boltcards

import (
	"crypto/rand"
	"time"
)

const (
	// minGroupSize keeps scan groups usable even on very slow hardware
	minGroupSize = 1000
	// calibrationSample is how long the calibration loop actually runs;
	// the result is scaled up to one second
	calibrationSample = 100 * time.Millisecond
)

// CalibrateGroupSize measures how many derive-and-decrypt attempts this host
// manages per second and sizes scan groups so a full group scan costs about
// one CPU-second. Calibration happens once, when the settings row is first
// created, and the result is persisted.
func CalibrateGroupSize(masterSeed []byte) int {
	payload := make([]byte, sunPayloadLength)
	_, _ = rand.Read(payload)

	attempts := 0
	start := time.Now()
	for time.Since(start) < calibrationSample {
		k1 := deriveCardKey(masterSeed, attempts, "k1")
		_, _ = decryptTapPayload(k1, payload)
		attempts++
	}

	size := attempts * int(time.Second/calibrationSample)
	if size < minGroupSize {
		size = minGroupSize
	}
	return size
}
