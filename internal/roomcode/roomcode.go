// Package roomcode generates and normalizes the short codes players type to join a session.
package roomcode

import (
	"context"
	"crypto/rand"
	stderrors "errors"
	"fmt"
	"io"
	"strings"

	"github.com/victornm/livequiz/internal/errors"
)

const (
	Length   = 6
	alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	defaultAttempts = 5
)

// Largest multiple of len(alphabet) that fits in a byte; bytes above it are rejected to keep
// the distribution uniform.
const maxByte = 256 - 256%len(alphabet)

// Generate draws a code uniformly from [A-Z0-9]^6.
func Generate(r io.Reader) (string, error) {
	out := make([]byte, 0, Length)
	buf := make([]byte, Length*2)

	for len(out) < Length {
		if _, err := io.ReadFull(r, buf); err != nil {
			return "", fmt.Errorf("read random: %w", err)
		}

		for _, b := range buf {
			if int(b) >= maxByte {
				continue
			}
			out = append(out, alphabet[int(b)%len(alphabet)])
			if len(out) == Length {
				break
			}
		}
	}

	return string(out), nil
}

// Normalize trims and uppercases a code typed by a player.
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Valid reports whether a normalized code has the expected shape.
func Valid(code string) bool {
	if len(code) != Length {
		return false
	}

	for i := 0; i < len(code); i++ {
		if !strings.ContainsRune(alphabet, rune(code[i])) {
			return false
		}
	}

	return true
}

// Parse normalizes a code and rejects malformed input before any lookup.
func Parse(code string) (string, error) {
	c := Normalize(code)
	if c == "" {
		return "", errors.New(errors.CodeInvalidArgument, errors.WithMessagef("room code cannot be empty"))
	}

	if !Valid(c) {
		return "", errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("room code must be %d letters or digits", Length))
	}

	return c, nil
}

// ClaimFunc reserves a code. It returns an error matching errors.ErrRoomCodeTaken when the code
// already belongs to another session.
type ClaimFunc func(ctx context.Context, code string) error

// Generator allocates codes, retrying on collisions with active sessions.
type Generator struct {
	rand     io.Reader
	attempts int
}

type GeneratorConfig struct {
	// Rand defaults to crypto/rand.
	Rand     io.Reader
	Attempts int
}

func NewGenerator(c GeneratorConfig) *Generator {
	g := &Generator{
		rand:     c.Rand,
		attempts: c.Attempts,
	}

	if g.rand == nil {
		g.rand = rand.Reader
	}

	if g.attempts <= 0 {
		g.attempts = defaultAttempts
	}

	return g
}

// Allocate generates codes until claim succeeds or the attempts are exhausted.
func (g *Generator) Allocate(ctx context.Context, claim ClaimFunc) (string, error) {
	for i := 0; i < g.attempts; i++ {
		code, err := Generate(g.rand)
		if err != nil {
			return "", err
		}

		err = claim(ctx, code)
		if err == nil {
			return code, nil
		}

		if !stderrors.Is(err, errors.ErrRoomCodeTaken) {
			return "", err
		}
	}

	return "", errors.New(errors.CodeAborted,
		errors.WithReason(errors.ReasonRoomCodeTaken),
		errors.WithMessagef("could not allocate a free room code after %d attempts", g.attempts),
	)
}
