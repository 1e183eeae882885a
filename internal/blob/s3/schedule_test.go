package s3blob

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduleNext(t *testing.T) {
	base := time.Date(2026, 3, 14, 10, 7, 30, 0, time.UTC) // Saturday

	cases := []struct {
		expr string
		want time.Time
	}{
		{"* * * * *", time.Date(2026, 3, 14, 10, 8, 0, 0, time.UTC)},
		{"0 3 * * *", time.Date(2026, 3, 15, 3, 0, 0, 0, time.UTC)},
		{"*/15 * * * *", time.Date(2026, 3, 14, 10, 15, 0, 0, time.UTC)},
		{"0 3 1 * *", time.Date(2026, 4, 1, 3, 0, 0, 0, time.UTC)},
		{"30 9 * * 1", time.Date(2026, 3, 16, 9, 30, 0, 0, time.UTC)},
		{"0,30 10 * * *", time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		t.Run(tc.expr, func(t *testing.T) {
			sched, err := ParseSchedule(tc.expr)
			require.NoError(t, err)
			got, err := sched.Next(base)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestScheduleNextIsStrictlyAfter(t *testing.T) {
	sched, err := ParseSchedule("0 3 * * *")
	require.NoError(t, err)
	at := time.Date(2026, 3, 14, 3, 0, 0, 0, time.UTC)
	got, err := sched.Next(at)
	require.NoError(t, err)
	assert.Equal(t, at.Add(24*time.Hour), got)
}

func TestParseScheduleRejectsBadInput(t *testing.T) {
	for _, expr := range []string{
		"",
		"* * * *",
		"60 * * * *",
		"* 24 * * *",
		"* * 0 * *",
		"* * * 13 *",
		"* * * * 7",
		"*/0 * * * *",
		"a * * * *",
	} {
		_, err := ParseSchedule(expr)
		assert.Error(t, err, expr)
	}
}

func TestScheduleWithNoMatch(t *testing.T) {
	sched, err := ParseSchedule("0 0 31 2 *")
	require.NoError(t, err)
	_, err = sched.Next(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	assert.Error(t, err)
}
