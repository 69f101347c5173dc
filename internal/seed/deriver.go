// Package seed derives the per-origin, per-context seed key and caches the
// generator state built from it, rotating both when the time bucket moves.
package seed

import (
	"fmt"
	"hash/fnv"
	"strconv"
	"strings"
	"time"

	"fingerprint-shield/internal/prng"
)

const separator = "::"

// Context identifies one reproducibility scope.
type Context struct {
	OriginID   string
	ContextTag string
	TimeBucket int64
}

// Material is the separator-joined form of the context that gets hashed.
func (c Context) Material() string {
	return c.OriginID + separator + c.ContextTag + separator + strconv.FormatInt(c.TimeBucket, 10)
}

// Deriver turns a Context plus call-scoped extras into seeds.
type Deriver struct {
	salt           string
	window         time.Duration
	fallbackOrigin string
}

func NewDeriver(salt string, window time.Duration, fallbackOrigin string) *Deriver {
	if window <= 0 {
		window = 5 * time.Minute
	}
	if fallbackOrigin == "" {
		fallbackOrigin = "null://"
	}
	return &Deriver{salt: salt, window: window, fallbackOrigin: fallbackOrigin}
}

func (d *Deriver) Window() time.Duration { return d.window }

// Bucket is floor(now / window) in milliseconds.
func (d *Deriver) Bucket(now time.Time) int64 {
	ms := now.UnixMilli()
	w := d.window.Milliseconds()
	b := ms / w
	if ms < 0 && ms%w != 0 {
		b--
	}
	return b
}

// Context builds the scope for origin and tag at now. An empty origin is
// replaced by the configured sentinel.
func (d *Deriver) Context(origin, tag string, now time.Time) Context {
	if origin == "" {
		origin = d.fallbackOrigin
	}
	return Context{OriginID: origin, ContextTag: tag, TimeBucket: d.Bucket(now)}
}

// ComputeSeedKey renders the context's seed as eight hex digits.
func (d *Deriver) ComputeSeedKey(c Context) string {
	return fmt.Sprintf("%08x", d.Seed(c))
}

// Seed hashes the context, any extras and the salt. Extras are rendered
// with %v so coordinates and parameter tuples disambiguate call sites.
func (d *Deriver) Seed(c Context, extras ...any) uint32 {
	return d.hash(c.Material(), extras)
}

// SubSeed derives a call-scoped seed from an existing seed key.
func (d *Deriver) SubSeed(key string, extras ...any) uint32 {
	return d.hash(key, extras)
}

func (d *Deriver) hash(material string, extras []any) uint32 {
	var b strings.Builder
	b.WriteString(material)
	for _, e := range extras {
		b.WriteString(separator)
		fmt.Fprint(&b, e)
	}
	b.WriteString(separator)
	b.WriteString(d.salt)

	h := fnv.New32a()
	h.Write([]byte(b.String()))
	return NonZero(h.Sum32())
}

// NonZero substitutes prng.ZeroSeed for a zero seed.
func NonZero(s uint32) uint32 {
	if s == 0 {
		return prng.ZeroSeed
	}
	return s
}
