package macro

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMillisRoundTrip(t *testing.T) {
	for ms := 0; ms <= 100000; ms++ {
		if got := SecondsToMillis(MillisToSeconds(ms)); got != ms {
			t.Fatalf("SecondsToMillis(MillisToSeconds(%d)) = %d", ms, got)
		}
	}
}

func TestSecondsToMillisRounding(t *testing.T) {
	tests := []struct {
		sec  float64
		want int
	}{
		{0, 0},
		{-1, 0},
		{0.0004, 0},
		{0.0005, 1},
		{0.0015, 2},
		{0.0025, 3},
		{1.2344, 1234},
		{1.2346, 1235},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SecondsToMillis(tt.sec), "SecondsToMillis(%v)", tt.sec)
	}
}

func TestDurationToMillis(t *testing.T) {
	assert.Equal(t, 0, DurationToMillis(-time.Second))
	assert.Equal(t, 0, DurationToMillis(499*time.Microsecond))
	assert.Equal(t, 1, DurationToMillis(500*time.Microsecond))
	assert.Equal(t, 105, DurationToMillis(104600*time.Microsecond))
}

func TestAppendAndSteps(t *testing.T) {
	m := New()
	s1 := m.Append(Event{Key: "a", Delay: 0})
	s2 := m.Append(Event{Key: "b", Delay: 120 * time.Millisecond})
	s3 := m.Append(Event{Key: "a", Delay: -time.Second})

	assert.Equal(t, Step{Index: 1, Key: "a", DelayMs: 0}, s1)
	assert.Equal(t, Step{Index: 2, Key: "b", DelayMs: 120}, s2)
	assert.Equal(t, Step{Index: 3, Key: "a", DelayMs: 0}, s3)
	assert.Equal(t, 3, m.Len())
	assert.Equal(t, []Step{s1, s2, s3}, m.Steps())
}

func TestEventsIsSnapshot(t *testing.T) {
	m := New()
	m.Append(Event{Key: "x", Delay: time.Millisecond})

	events := m.Events()
	events[0].Key = "mutated"

	assert.Equal(t, "x", m.Events()[0].Key)
}

func TestClear(t *testing.T) {
	m := New()
	m.Append(Event{Key: "x"})
	m.Clear()
	assert.Zero(t, m.Len())
	assert.Empty(t, m.Steps())
}

func TestSetDelay(t *testing.T) {
	m := New()
	m.Append(Event{Key: "a", Delay: 10 * time.Millisecond})
	m.Append(Event{Key: "b", Delay: 20 * time.Millisecond})

	require.NoError(t, m.SetDelay(1, 555))
	assert.Equal(t, 555*time.Millisecond, m.Events()[1].Delay)
	assert.Equal(t, 555, m.Steps()[1].DelayMs)

	err := m.SetDelay(0, -1)
	assert.ErrorIs(t, err, ErrInvalidDelay)
	assert.Equal(t, 10*time.Millisecond, m.Events()[0].Delay)

	err = m.SetDelay(2, 5)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
}

func TestParseDelay(t *testing.T) {
	tests := []struct {
		input   string
		want    int
		wantErr bool
	}{
		{"55", 55, false},
		{" 555 ", 555, false},
		{"0", 0, false},
		{"", 0, true},
		{"-1", 0, true},
		{"1.5", 0, true},
		{"abc", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseDelay(tt.input)
		if tt.wantErr {
			assert.ErrorIs(t, err, ErrInvalidDelay, "ParseDelay(%q)", tt.input)
			continue
		}
		require.NoError(t, err, "ParseDelay(%q)", tt.input)
		assert.Equal(t, tt.want, got)
	}
}
