// Package entropy supplies the one-time randomness burst each execution
// context is seeded from.
package entropy

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"io"
	mrand "math/rand/v2"
	"sync"
	"time"
)

// ErrNoStrongSource is returned by Strict sources when the cryptographic
// reader fails.
var ErrNoStrongSource = errors.New("entropy: strong randomness unavailable")

// Quality tells callers which path produced their bytes.
type Quality int

const (
	Strong Quality = iota
	Weak
)

func (q Quality) String() string {
	if q == Strong {
		return "strong"
	}
	return "weak"
}

// Source produces uninterpreted random bytes.
type Source struct {
	strong io.Reader
	strict bool
	now    func() time.Time

	mu   sync.Mutex
	weak *mrand.Rand
	last Quality
}

type Option func(*Source)

// WithReader replaces the strong reader, mostly for tests simulating a host
// without a cryptographic primitive.
func WithReader(r io.Reader) Option {
	return func(s *Source) { s.strong = r }
}

// Strict disables the weak fallback.
func Strict() Option {
	return func(s *Source) { s.strict = true }
}

func WithClock(now func() time.Time) Option {
	return func(s *Source) { s.now = now }
}

func New(opts ...Option) *Source {
	s := &Source{
		strong: rand.Reader,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Bytes returns n random bytes and the quality of the path that made them.
// The weak path mixes the wall clock into a PCG stream and is never
// reported as Strong.
func (s *Source) Bytes(n int) ([]byte, Quality, error) {
	buf := make([]byte, n)
	if s.strong != nil {
		if _, err := io.ReadFull(s.strong, buf); err == nil {
			s.setLast(Strong)
			return buf, Strong, nil
		}
	}
	if s.strict {
		return nil, Weak, ErrNoStrongSource
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.weak == nil {
		t := uint64(s.now().UnixNano())
		s.weak = mrand.New(mrand.NewPCG(t, t^0x9e3779b97f4a7c15))
	}
	for i := 0; i < n; i += 8 {
		var word [8]byte
		binary.LittleEndian.PutUint64(word[:], s.weak.Uint64()^uint64(s.now().UnixNano()))
		copy(buf[i:], word[:])
	}
	s.last = Weak
	return buf, Weak, nil
}

// Uint32 draws four bytes. Failures collapse to the weak path or zero.
func (s *Source) Uint32() uint32 {
	b, _, err := s.Bytes(4)
	if err != nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

// Tag returns a 16-byte hex identifier for an execution context.
func (s *Source) Tag() (string, Quality, error) {
	b, q, err := s.Bytes(16)
	if err != nil {
		return "", q, err
	}
	return hex.EncodeToString(b), q, nil
}

// LastQuality reports the quality of the most recent draw.
func (s *Source) LastQuality() Quality {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

func (s *Source) setLast(q Quality) {
	s.mu.Lock()
	s.last = q
	s.mu.Unlock()
}
