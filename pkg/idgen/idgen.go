// Package idgen generates action ids. Sequential ids are human friendly for
// demos and tests; UUID modes are for everything else.
package idgen

import (
	"crypto/rand"
	"crypto/sha1"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// ErrUnknownMode is returned by ParseModeStrict for unrecognised names.
var ErrUnknownMode = errors.New("unknown id mode")

// Mode selects the id format.
type Mode string

const (
	Sequential Mode = "sequential"
	V1         Mode = "v1"
	V3         Mode = "v3"
	V4         Mode = "v4"
	V5         Mode = "v5"
	V6         Mode = "v6"
	V7         Mode = "v7"
	// V8 is a traceable id: host fingerprint, coarse clock and random tail.
	V8 Mode = "v8"
)

// DefaultPrefix is used by Sequential ids when no prefix is given.
const DefaultPrefix = "cmd"

var modes = []Mode{Sequential, V1, V3, V4, V5, V6, V7, V8}

// ParseModeStrict resolves a mode name, case-insensitively.
func ParseModeStrict(s string) (Mode, error) {
	m := Mode(strings.ToLower(strings.TrimSpace(s)))
	if m == "" {
		return V4, nil
	}
	for _, known := range modes {
		if m == known {
			return m, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
}

// ParseMode is like ParseModeStrict but falls back to V4.
func ParseMode(s string) Mode {
	m, err := ParseModeStrict(s)
	if err != nil {
		return V4
	}
	return m
}

// Config configures a Generator.
type Config struct {
	Mode   Mode
	Prefix string
	// Namespace and BaseName feed the name-based V3 and V5 modes.
	Namespace string
	BaseName  string
}

// Generator produces unique action ids. It is safe for concurrent use.
type Generator struct {
	mode      Mode
	prefix    string
	namespace uuid.UUID
	baseName  string
	counter   atomic.Uint64

	hostOnce sync.Once
	host     [3]byte
}

// New builds a Generator. An empty mode means V4.
func New(cfg Config) (*Generator, error) {
	mode, err := ParseModeStrict(string(cfg.Mode))
	if err != nil {
		return nil, err
	}
	g := &Generator{
		mode:      mode,
		prefix:    cfg.Prefix,
		namespace: uuid.NameSpaceURL,
		baseName:  cfg.BaseName,
	}
	if g.prefix == "" {
		g.prefix = DefaultPrefix
	}
	if g.baseName == "" {
		g.baseName = "shellguard"
	}
	if cfg.Namespace != "" {
		ns, err := uuid.Parse(cfg.Namespace)
		if err != nil {
			return nil, fmt.Errorf("idgen: namespace: %w", err)
		}
		g.namespace = ns
	}
	return g, nil
}

// NewSequential returns a generator producing "<prefix>-001", "<prefix>-002"...
func NewSequential(prefix string) *Generator {
	g, _ := New(Config{Mode: Sequential, Prefix: prefix})
	return g
}

// Mode returns the configured mode.
func (g *Generator) Mode() Mode { return g.mode }

// NewID returns the next id.
func (g *Generator) NewID() string {
	switch g.mode {
	case Sequential:
		return fmt.Sprintf("%s-%03d", g.prefix, g.counter.Add(1))
	case V1:
		return mustUUID(uuid.NewUUID())
	case V3:
		return uuid.NewMD5(g.namespace, g.nextName()).String()
	case V5:
		return uuid.NewSHA1(g.namespace, g.nextName()).String()
	case V6:
		return mustUUID(uuid.NewV6())
	case V7:
		return mustUUID(uuid.NewV7())
	case V8:
		return g.traceable(time.Now()).String()
	default:
		return uuid.NewString()
	}
}

// nextName makes every name-based id unique.
func (g *Generator) nextName() []byte {
	return []byte(fmt.Sprintf("%s:%d:%d", g.baseName, time.Now().UnixNano(), g.counter.Add(1)))
}

// tenthsPerWindow is 14 days of tenth-second ticks; it fits in 24 bits.
const tenthsPerWindow = 14 * 24 * 60 * 60 * 10

func (g *Generator) traceable(now time.Time) uuid.UUID {
	g.hostOnce.Do(func() {
		name, err := os.Hostname()
		if err != nil {
			name = "unknown-host"
		}
		sum := sha1.Sum([]byte(name))
		copy(g.host[:], sum[:3])
	})

	var u uuid.UUID
	copy(u[0:3], g.host[:])

	tick := uint32((now.UnixNano() / int64(100*time.Millisecond)) % tenthsPerWindow)
	var tb [4]byte
	binary.BigEndian.PutUint32(tb[:], tick)
	copy(u[3:6], tb[1:])

	if _, err := rand.Read(u[6:]); err != nil {
		return uuid.New()
	}
	u[6] = (u[6] & 0x0f) | 0x80 // version 8
	u[8] = (u[8] & 0x3f) | 0x80 // RFC 4122 variant
	return u
}

func mustUUID(u uuid.UUID, err error) string {
	if err != nil {
		return uuid.NewString()
	}
	return u.String()
}
