package hub

import "time"

// PlaybackState is the authoritative playback state of a room: Position is
// the position in seconds that was true at the instant UpdatedAt. It is an
// immutable value; every transition produces a new one. Observers (including
// clients, using their own clocks) derive the current position by projecting
// the elapsed time since UpdatedAt.
type PlaybackState struct {
	Position  float64
	Playing   bool
	UpdatedAt time.Time
}

// PositionAt projects the playback position at t. A paused room does not
// advance, and a t earlier than UpdatedAt clamps the elapsed time to zero
// rather than rewinding.
func (s PlaybackState) PositionAt(t time.Time) float64 {
	if !s.Playing {
		return s.Position
	}
	elapsed := t.Sub(s.UpdatedAt)
	if elapsed < 0 {
		elapsed = 0
	}
	return s.Position + elapsed.Seconds()
}

// play resumes playback at the requested position, or at the projected
// current position when none is given.
func (s PlaybackState) play(at *float64, now time.Time) (PlaybackState, error) {
	now = s.stamp(now)
	pos := s.PositionAt(now)
	if at != nil {
		if *at < 0 {
			return s, ErrInvalidPosition
		}
		pos = *at
	}
	return PlaybackState{Position: pos, Playing: true, UpdatedAt: now}, nil
}

// pause freezes playback at the requested position, or at the projected
// current position when none is given.
func (s PlaybackState) pause(at *float64, now time.Time) (PlaybackState, error) {
	now = s.stamp(now)
	pos := s.PositionAt(now)
	if at != nil {
		if *at < 0 {
			return s, ErrInvalidPosition
		}
		pos = *at
	}
	return PlaybackState{Position: pos, Playing: false, UpdatedAt: now}, nil
}

// seek jumps to a position without changing the play/pause state.
func (s PlaybackState) seek(to float64, now time.Time) (PlaybackState, error) {
	if to < 0 {
		return s, ErrInvalidPosition
	}
	return PlaybackState{Position: to, Playing: s.Playing, UpdatedAt: s.stamp(now)}, nil
}

// stamp clamps now against the previous reference instant so that UpdatedAt
// never moves backwards for a room, even if the wall clock does.
func (s PlaybackState) stamp(now time.Time) time.Time {
	if now.Before(s.UpdatedAt) {
		return s.UpdatedAt
	}
	return now
}

// videoState converts the state to its wire representation, with the
// reference instant in Unix milliseconds.
func (s PlaybackState) videoState() msgVideoState {
	return msgVideoState{
		CurrentTime: s.Position,
		IsPlaying:   s.Playing,
		Timestamp:   s.UpdatedAt.UnixMilli(),
	}
}
