package uuidv7

import (
	"crypto/rand"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
)

const maxSeq = 0x0fff

// Generator mints RFC 9562 version 7 ids that sort strictly by creation
// order within one process. rand_a carries a 12-bit counter seeded from
// randomness on each new millisecond; a clock that steps backwards reuses
// the last millisecond instead of going back.
type Generator struct {
	rand io.Reader

	mu     sync.Mutex
	lastMS int64
	seq    uint16
}

func NewGenerator(r io.Reader) *Generator {
	if r == nil {
		r = rand.Reader
	}
	return &Generator{rand: r}
}

var defaultGenerator = NewGenerator(nil)

// New stamps an id with the wall clock using the process-wide generator.
func New() (uuid.UUID, error) {
	return defaultGenerator.NewAt(time.Now())
}

func NewAt(at time.Time) (uuid.UUID, error) {
	return defaultGenerator.NewAt(at)
}

// StringAt is the form stored by the verification and tax stores.
func StringAt(at time.Time) (string, error) {
	u, err := defaultGenerator.NewAt(at)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

func (g *Generator) NewAt(at time.Time) (uuid.UUID, error) {
	var b [16]byte
	if _, err := io.ReadFull(g.rand, b[6:]); err != nil {
		return uuid.Nil, err
	}

	ms, seq := g.next(at.UnixMilli(), uint16(b[6]&0x07)<<8|uint16(b[7]))

	b[0] = byte(ms >> 40)
	b[1] = byte(ms >> 32)
	b[2] = byte(ms >> 24)
	b[3] = byte(ms >> 16)
	b[4] = byte(ms >> 8)
	b[5] = byte(ms)
	b[6] = 0x70 | byte(seq>>8)
	b[7] = byte(seq)
	b[8] = (b[8] & 0x3f) | 0x80

	return uuid.FromBytes(b[:])
}

// next seeds the counter below half its range so a busy millisecond still
// has room to count up before spilling into the following one.
func (g *Generator) next(ms int64, seed uint16) (int64, uint16) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if ms > g.lastMS {
		g.lastMS = ms
		g.seq = seed
		return g.lastMS, g.seq
	}
	if g.seq >= maxSeq {
		g.lastMS++
		g.seq = 0
		return g.lastMS, g.seq
	}
	g.seq++
	return g.lastMS, g.seq
}

// Time extracts the embedded millisecond timestamp.
func Time(u uuid.UUID) (time.Time, error) {
	if u.Version() != 7 {
		return time.Time{}, errors.New("uuidv7: not a version 7 uuid")
	}
	ms := int64(u[0])<<40 | int64(u[1])<<32 | int64(u[2])<<24 | int64(u[3])<<16 | int64(u[4])<<8 | int64(u[5])
	return time.UnixMilli(ms).UTC(), nil
}
