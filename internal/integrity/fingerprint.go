package integrity

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"time"
)

// weightPrecision rounds weights to 6 decimal digits before hashing so
// floating-point noise from repeated serialization does not change the
// fingerprint.
const weightPrecision = 1e6

// Fingerprinter produces deterministic digests of model snapshots.
// Layer names are sorted before hashing, so insertion order never affects
// the result.
type Fingerprinter struct{}

// NewFingerprinter creates a fingerprinter.
func NewFingerprinter() *Fingerprinter {
	return &Fingerprinter{}
}

// Fingerprint digests the snapshot's layer weights, metadata, and output
// distribution into a 256-bit hash plus per-layer hashes.
func (f *Fingerprinter) Fingerprint(snapshot *ModelSnapshot) *ModelFingerprint {
	layerNames := make([]string, 0, len(snapshot.LayerWeights))
	for name := range snapshot.LayerWeights {
		layerNames = append(layerNames, name)
	}
	sort.Strings(layerNames)

	perLayer := make(map[string][32]byte, len(layerNames))
	overall := sha256.New()
	for _, name := range layerNames {
		layerHash := hashLayer(snapshot.LayerWeights[name])
		perLayer[name] = layerHash
		overall.Write([]byte(name))
		overall.Write(layerHash[:])
	}

	if snapshot.Accuracy != nil {
		writeRounded(overall, *snapshot.Accuracy)
	}
	if snapshot.Loss != nil {
		writeRounded(overall, *snapshot.Loss)
	}

	labels := make([]string, 0, len(snapshot.OutputDistribution))
	for label := range snapshot.OutputDistribution {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	for _, label := range labels {
		overall.Write([]byte(label))
		writeRounded(overall, snapshot.OutputDistribution[label])
	}

	var overallHash [32]byte
	copy(overallHash[:], overall.Sum(nil))

	return &ModelFingerprint{
		ModelID:      snapshot.ModelID,
		OverallHash:  overallHash,
		PerLayerHash: perLayer,
		CreatedAt:    time.Now().UTC(),
		Active:       true,
	}
}

// Compare reports the layers whose hashes differ between two fingerprints,
// including layers present on only one side.
func (f *Fingerprinter) Compare(current, baseline *ModelFingerprint) []string {
	var changed []string
	for name, hash := range current.PerLayerHash {
		base, ok := baseline.PerLayerHash[name]
		if !ok || base != hash {
			changed = append(changed, name)
		}
	}
	for name := range baseline.PerLayerHash {
		if _, ok := current.PerLayerHash[name]; !ok {
			changed = append(changed, name)
		}
	}
	sort.Strings(changed)
	return changed
}

func hashLayer(weights []float64) [32]byte {
	h := sha256.New()
	buf := make([]byte, 8)
	for _, w := range weights {
		binary.BigEndian.PutUint64(buf, math.Float64bits(round6(w)))
		h.Write(buf)
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

func writeRounded(h interface{ Write(p []byte) (int, error) }, v float64) {
	fmt.Fprintf(h, "%.6f", v)
}

func round6(v float64) float64 {
	return math.Round(v*weightPrecision) / weightPrecision
}
