package roomcode_test

import (
	"bytes"
	"context"
	"crypto/rand"
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/livequiz/internal/errors"
	"github.com/victornm/livequiz/internal/roomcode"
)

func TestGenerate(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		code, err := roomcode.Generate(rand.Reader)
		require.NoError(t, err)
		require.True(t, roomcode.Valid(code), "generated code %q should be valid", code)
		seen[code] = true
	}

	assert.Greater(t, len(seen), 190, "codes should rarely repeat")
}

func TestGenerate_RejectsBiasedBytes(t *testing.T) {
	// 255 is above the rejection threshold; 0 maps to 'A', 1 to 'B'.
	r := bytes.NewReader(append(bytes.Repeat([]byte{255}, 12), 0, 1, 0, 1, 0, 1, 0, 1, 0, 1, 0, 1))

	code, err := roomcode.Generate(r)
	require.NoError(t, err)
	assert.Equal(t, "ABABAB", code)
}

func TestParse(t *testing.T) {
	tests := map[string]struct {
		in      string
		want    string
		wantErr bool
	}{
		"lowercase is normalized":  {in: " ab12cd ", want: "AB12CD"},
		"already normalized":       {in: "ZZZ999", want: "ZZZ999"},
		"empty":                    {in: "   ", wantErr: true},
		"too short":                {in: "ABC", wantErr: true},
		"symbols are rejected":     {in: "AB-12C", wantErr: true},
		"non ascii letters reject": {in: "ÄB12CD", wantErr: true},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			got, err := roomcode.Parse(tt.in)
			if tt.wantErr {
				require.ErrorIs(t, err, errors.New(errors.CodeInvalidArgument))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGenerator_Allocate(t *testing.T) {
	tests := map[string]struct {
		attempts int
		claim    func(calls *int) roomcode.ClaimFunc
		assert   func(t *testing.T, code string, calls int, err error)
	}{
		"first free code is returned": {
			claim: func(calls *int) roomcode.ClaimFunc {
				return func(context.Context, string) error { *calls++; return nil }
			},
			assert: func(t *testing.T, code string, calls int, err error) {
				require.NoError(t, err)
				assert.True(t, roomcode.Valid(code))
				assert.Equal(t, 1, calls)
			},
		},
		"collisions are retried": {
			claim: func(calls *int) roomcode.ClaimFunc {
				return func(context.Context, string) error {
					*calls++
					if *calls < 3 {
						return errors.ErrRoomCodeTaken
					}
					return nil
				}
			},
			assert: func(t *testing.T, code string, calls int, err error) {
				require.NoError(t, err)
				assert.Equal(t, 3, calls)
			},
		},
		"exhausted attempts abort": {
			attempts: 2,
			claim: func(calls *int) roomcode.ClaimFunc {
				return func(context.Context, string) error { *calls++; return errors.ErrRoomCodeTaken }
			},
			assert: func(t *testing.T, code string, calls int, err error) {
				require.ErrorIs(t, err, errors.New(errors.CodeAborted))
				assert.Equal(t, 2, calls)
			},
		},
		"other errors are not retried": {
			claim: func(calls *int) roomcode.ClaimFunc {
				return func(context.Context, string) error { *calls++; return stderrors.New("redis down") }
			},
			assert: func(t *testing.T, code string, calls int, err error) {
				require.EqualError(t, err, "redis down")
				assert.Equal(t, 1, calls)
			},
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			var calls int
			g := roomcode.NewGenerator(roomcode.GeneratorConfig{Attempts: tt.attempts})
			code, err := g.Allocate(context.Background(), tt.claim(&calls))
			tt.assert(t, code, calls, err)
		})
	}
}
