package hub

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func at(d time.Duration) time.Time {
	return t0.Add(d)
}

func TestPositionAtProjection(t *testing.T) {
	playing := PlaybackState{Position: 10, Playing: true, UpdatedAt: t0}
	paused := PlaybackState{Position: 10, Playing: false, UpdatedAt: t0}

	assert.Equal(t, 10.0, playing.PositionAt(t0))
	assert.Equal(t, 15.0, playing.PositionAt(at(5*time.Second)))
	assert.Equal(t, 10.5, playing.PositionAt(at(500*time.Millisecond)))

	// A paused clock does not advance.
	assert.Equal(t, 10.0, paused.PositionAt(at(20*time.Second)))

	// Reads before the reference instant clamp to zero elapsed.
	assert.Equal(t, 10.0, playing.PositionAt(at(-5*time.Second)))
}

func TestProjectionDoesNotMutate(t *testing.T) {
	s := PlaybackState{Position: 3, Playing: true, UpdatedAt: t0}
	_ = s.PositionAt(at(time.Hour))
	assert.Equal(t, PlaybackState{Position: 3, Playing: true, UpdatedAt: t0}, s)
}

func TestPlayPauseScenario(t *testing.T) {
	// Room starts paused at zero.
	s := PlaybackState{UpdatedAt: t0}

	// Play at t=0.
	s, err := s.play(nil, t0)
	require.NoError(t, err)
	assert.Equal(t, PlaybackState{Position: 0, Playing: true, UpdatedAt: t0}, s)

	// At t=5 the projected position is 5.
	assert.Equal(t, 5.0, s.PositionAt(at(5*time.Second)))

	// Pause at t=5 freezes at position 5.
	s, err = s.pause(nil, at(5*time.Second))
	require.NoError(t, err)
	assert.Equal(t, PlaybackState{Position: 5, Playing: false, UpdatedAt: at(5 * time.Second)}, s)

	// At t=20 the position is still 5.
	assert.Equal(t, 5.0, s.PositionAt(at(20*time.Second)))
}

func TestSeekKeepsPlayingFlag(t *testing.T) {
	s := PlaybackState{Position: 0, Playing: true, UpdatedAt: t0}

	// Seek to 120 while playing at t=10.
	s, err := s.seek(120, at(10*time.Second))
	require.NoError(t, err)
	assert.Equal(t, PlaybackState{Position: 120, Playing: true, UpdatedAt: at(10 * time.Second)}, s)

	// Two seconds later the projection is 122.
	assert.Equal(t, 122.0, s.PositionAt(at(12*time.Second)))

	// Seeking while paused stays paused.
	p := PlaybackState{Position: 50, Playing: false, UpdatedAt: t0}
	p, err = p.seek(7, at(time.Second))
	require.NoError(t, err)
	assert.False(t, p.Playing)
	assert.Equal(t, 7.0, p.Position)
}

func TestPlayAtRequestedPosition(t *testing.T) {
	s := PlaybackState{Position: 30, Playing: false, UpdatedAt: t0}

	pos := 90.0
	s, err := s.play(&pos, at(time.Second))
	require.NoError(t, err)
	assert.Equal(t, PlaybackState{Position: 90, Playing: true, UpdatedAt: at(time.Second)}, s)
}

func TestPauseIdempotent(t *testing.T) {
	s := PlaybackState{Position: 0, Playing: true, UpdatedAt: t0}

	s, err := s.pause(nil, at(5*time.Second))
	require.NoError(t, err)

	// A second pause may advance the reference instant but never the
	// position or the flag.
	again, err := s.pause(nil, at(9*time.Second))
	require.NoError(t, err)
	assert.Equal(t, s.Position, again.Position)
	assert.Equal(t, s.Playing, again.Playing)
	assert.Equal(t, at(9*time.Second), again.UpdatedAt)
}

func TestNegativePositionsRejected(t *testing.T) {
	s := PlaybackState{Position: 42, Playing: true, UpdatedAt: t0}
	neg := -1.0

	for _, apply := range []func() (PlaybackState, error){
		func() (PlaybackState, error) { return s.play(&neg, at(time.Second)) },
		func() (PlaybackState, error) { return s.pause(&neg, at(time.Second)) },
		func() (PlaybackState, error) { return s.seek(neg, at(time.Second)) },
	} {
		out, err := apply()
		assert.ErrorIs(t, err, ErrInvalidPosition)
		// State is returned unchanged on rejection.
		assert.Equal(t, s, out)
	}
}

func TestReferenceInstantNeverRegresses(t *testing.T) {
	s := PlaybackState{Position: 10, Playing: true, UpdatedAt: at(10 * time.Second)}

	// A wall clock that jumped backwards must not move the reference
	// instant backwards.
	s, err := s.pause(nil, at(4*time.Second))
	require.NoError(t, err)
	assert.Equal(t, at(10*time.Second), s.UpdatedAt)

	s, err = s.play(nil, at(2*time.Second))
	require.NoError(t, err)
	assert.Equal(t, at(10*time.Second), s.UpdatedAt)

	s, err = s.seek(3, at(6*time.Second))
	require.NoError(t, err)
	assert.Equal(t, at(10*time.Second), s.UpdatedAt)
}

func TestVideoStateWire(t *testing.T) {
	s := PlaybackState{Position: 1.5, Playing: true, UpdatedAt: t0}
	w := s.videoState()
	assert.Equal(t, 1.5, w.CurrentTime)
	assert.True(t, w.IsPlaying)
	assert.Equal(t, t0.UnixMilli(), w.Timestamp)
}
