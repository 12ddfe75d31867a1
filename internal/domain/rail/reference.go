package rail

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
)

const (
	referenceAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	referenceAttempts = 8
)

// ReferenceGenerator issues human-typeable payment references of the form
// <prefix><6 time digits><3 base-36 characters>.
//
// The generator remembers issued references in a Bloom filter and regenerates
// a candidate that may have been issued already. False positives only cost an
// extra attempt.
type ReferenceGenerator struct {
	prefix string
	now    func() time.Time
	intn   func(n int) int

	mu     sync.Mutex
	issued *bloom.BloomFilter
}

// NewReferenceGenerator returns a generator sized for capacity references at a
// 0.1% false-positive rate.
func NewReferenceGenerator(prefix string, capacity uint) *ReferenceGenerator {
	if capacity == 0 {
		capacity = 1_000_000
	}
	return &ReferenceGenerator{
		prefix: prefix,
		now:    time.Now,
		intn:   rand.IntN,
		issued: bloom.NewWithEstimates(capacity, 0.001),
	}
}

// Next returns a fresh reference.
func (g *ReferenceGenerator) Next() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	var candidate string
	for range referenceAttempts {
		candidate = g.candidate()
		if !g.issued.TestOrAddString(candidate) {
			return candidate
		}
	}
	return candidate
}

// Remember marks refs as issued, e.g. the open references loaded at startup.
func (g *ReferenceGenerator) Remember(refs ...string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, ref := range refs {
		g.issued.AddString(ref)
	}
}

// Seen reports whether ref may have been issued by this generator.
func (g *ReferenceGenerator) Seen(ref string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.issued.TestString(ref)
}

func (g *ReferenceGenerator) candidate() string {
	var b strings.Builder
	b.Grow(len(g.prefix) + 9)
	b.WriteString(g.prefix)
	fmt.Fprintf(&b, "%06d", g.now().UnixMilli()%1_000_000)
	for range 3 {
		b.WriteByte(referenceAlphabet[g.intn(len(referenceAlphabet))])
	}
	return b.String()
}
