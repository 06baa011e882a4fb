package jury

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"time"
)

// maxAttemptsPerSlot bounds the re-hash loop when a draw lands on an
// already-selected juror. Exhausting the attempts fails the selection instead
// of spinning.
const maxAttemptsPerSlot = 64

// EntropySource supplies the randomness mixed into selection seeds. The
// timestamp-based seeding of the reference design is not a VRF; production
// deployments should inject a verifiable source. Tests inject fixed bytes
// for deterministic selections.
type EntropySource interface {
	Entropy() ([32]byte, error)
}

// CryptoEntropy reads from crypto/rand.
type CryptoEntropy struct{}

func (CryptoEntropy) Entropy() ([32]byte, error) {
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		return [32]byte{}, fmt.Errorf("jury: read entropy: %w", err)
	}
	return b, nil
}

// deriveSeed hashes the initiation time, external entropy and the purchase
// id into the dispute's selection seed.
func deriveSeed(now time.Time, entropy [32]byte, purchaseID int64) []byte {
	h := sha256.New()
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(now.UnixNano()))
	h.Write(buf[:])
	h.Write(entropy[:])
	binary.BigEndian.PutUint64(buf[:], uint64(purchaseID))
	h.Write(buf[:])
	return h.Sum(nil)
}

// selectJurors samples jurySize distinct entries from candidates without
// replacement. Each slot draws hash(seed, slot, attempt) mod len(candidates)
// and re-hashes on collision with an earlier pick, up to
// maxAttemptsPerSlot. candidates must be in a stable order for the seed to
// be reproducible.
func selectJurors(seed []byte, candidates []string, jurySize int) ([]string, error) {
	if len(candidates) < jurySize {
		return nil, ErrInsufficientJurors
	}

	selected := make([]string, 0, jurySize)
	taken := make(map[int]bool, jurySize)
	for slot := 0; slot < jurySize; slot++ {
		found := false
		for attempt := 0; attempt < maxAttemptsPerSlot; attempt++ {
			idx := drawIndex(seed, slot, attempt, len(candidates))
			if taken[idx] {
				continue
			}
			taken[idx] = true
			selected = append(selected, candidates[idx])
			found = true
			break
		}
		if !found {
			return nil, ErrInsufficientJurors
		}
	}
	return selected, nil
}

func drawIndex(seed []byte, slot, attempt, poolSize int) int {
	h := sha256.New()
	h.Write(seed)
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(slot))
	h.Write(buf[:])
	binary.BigEndian.PutUint64(buf[:], uint64(attempt))
	h.Write(buf[:])
	sum := h.Sum(nil)
	return int(binary.BigEndian.Uint64(sum[:8]) % uint64(poolSize))
}
