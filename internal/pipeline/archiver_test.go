package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingArchiver struct {
	snapshotMonths []time.Time
	historyMonths  []time.Time
}

func (r *recordingArchiver) ArchiveSnapshots(_ context.Context, month time.Time) (int64, error) {
	r.snapshotMonths = append(r.snapshotMonths, month)
	return 10, nil
}

func (r *recordingArchiver) ArchiveHistory(_ context.Context, month time.Time) (int64, error) {
	r.historyMonths = append(r.historyMonths, month)
	return 3, nil
}

func TestArchiverRun_ArchivesPreviousMonth(t *testing.T) {
	rec := &recordingArchiver{}
	a := NewArchiver(rec, discardLogger())
	a.now = func() time.Time { return time.Date(2024, 3, 1, 3, 0, 0, 0, time.UTC) }

	require.NoError(t, a.Run(context.Background()))
	want := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, []time.Time{want}, rec.snapshotMonths)
	assert.Equal(t, []time.Time{want}, rec.historyMonths)
}

func TestArchiverRun_JanuaryWrapsToDecember(t *testing.T) {
	rec := &recordingArchiver{}
	a := NewArchiver(rec, discardLogger())
	a.now = func() time.Time { return time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC) }

	require.NoError(t, a.Run(context.Background()))
	assert.Equal(t, time.Date(2023, 12, 1, 0, 0, 0, 0, time.UTC), rec.snapshotMonths[0])
}

func TestCronNext(t *testing.T) {
	cases := []struct {
		expr  string
		after time.Time
		want  time.Time
	}{
		{
			expr:  "0 3 1 * *",
			after: time.Date(2024, 5, 17, 12, 0, 0, 0, time.UTC),
			want:  time.Date(2024, 6, 1, 3, 0, 0, 0, time.UTC),
		},
		{
			expr:  "*/15 * * * *",
			after: time.Date(2024, 5, 17, 10, 7, 30, 0, time.UTC),
			want:  time.Date(2024, 5, 17, 10, 15, 0, 0, time.UTC),
		},
		{
			expr:  "30 9-17/4 * * 1-5",
			after: time.Date(2024, 5, 17, 13, 30, 0, 0, time.UTC), // Friday
			want:  time.Date(2024, 5, 17, 17, 30, 0, 0, time.UTC),
		},
		{
			expr:  "0 0 * * 0,6",
			after: time.Date(2024, 5, 17, 0, 0, 0, 0, time.UTC),
			want:  time.Date(2024, 5, 18, 0, 0, 0, 0, time.UTC),
		},
	}
	for _, tc := range cases {
		t.Run(tc.expr, func(t *testing.T) {
			c, err := parseCron(tc.expr)
			require.NoError(t, err)
			got, err := c.next(tc.after)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestValidateCron(t *testing.T) {
	assert.NoError(t, ValidateCron("0 3 1 * *"))
	for _, bad := range []string{"", "* * *", "61 * * * *", "a * * * *", "*/0 * * * *", "5-1 * * * *", "0 0 0 * *"} {
		assert.Error(t, ValidateCron(bad), bad)
	}
}
