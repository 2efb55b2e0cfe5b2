package notice

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpdateMessageBoundary(t *testing.T) {
	tests := []struct {
		name string
		now  time.Time
		want bool
	}{
		{"long before", time.Date(2022, time.December, 31, 12, 0, 0, 0, time.UTC), false},
		{"day before", time.Date(2023, time.April, 30, 23, 59, 59, 0, time.UTC), false},
		{"threshold day", time.Date(2023, time.May, 1, 0, 0, 0, 0, time.UTC), true},
		{"threshold day evening", time.Date(2023, time.May, 1, 23, 0, 0, 0, time.UTC), true},
		{"after", time.Date(2026, time.October, 18, 9, 0, 0, 0, time.UTC), true},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			msg, ok := UpdateMessage(test.now)
			assert.Equal(t, test.want, ok)
			if test.want {
				assert.NotEmpty(t, msg)
				assert.True(t, strings.HasPrefix(msg, "Check for a new version of Intel(R) Distribution of OpenVINO(TM) toolkit here https://software.intel.com/"))
				assert.True(t, strings.HasSuffix(msg, " or on https://github.com/openvinotoolkit/openvino"))
				assert.Contains(t, msg, "campid=ww_2023_bu_IOTG_OpenVINO-2022-3")
			} else {
				assert.Empty(t, msg)
			}
		})
	}
}

func TestUpdateMessageUsesLocalCalendarDay(t *testing.T) {
	// 2023-05-01 02:00 in UTC+5 is still April 30 in UTC
	zone := time.FixedZone("UTC+5", 5*60*60)
	local := time.Date(2023, time.May, 1, 2, 0, 0, 0, zone)

	_, ok := UpdateMessage(local)
	assert.True(t, ok)

	_, ok = UpdateMessage(local.UTC())
	assert.False(t, ok)
}

func TestGetUpdateMessageUsesClock(t *testing.T) {
	saved := Clock
	t.Cleanup(func() { Clock = saved })

	Clock = func() time.Time { return time.Date(2023, time.January, 1, 0, 0, 0, 0, time.UTC) }
	_, ok := GetUpdateMessage()
	assert.False(t, ok)

	Clock = func() time.Time { return time.Date(2024, time.June, 1, 0, 0, 0, 0, time.UTC) }
	msg, ok := GetUpdateMessage()
	require.True(t, ok)
	assert.NotEmpty(t, msg)
}

func TestAPI20MessageIsConstant(t *testing.T) {
	first := API20Message()
	assert.Equal(t, first, API20Message())
	assert.True(t, strings.HasPrefix(first, "[ INFO ] The model was converted to IR v11"))
	assert.True(t, strings.HasSuffix(first, "Find more information about API v2.0 and IR v11 at https://docs.openvino.ai"))
	assert.Equal(t, 1, strings.Count(first, "\n"))
}

func TestDate(t *testing.T) {
	assert.Equal(t, "2023-05-01", UpdateDate.String())
	assert.True(t, Date{2023, time.April, 30}.Before(UpdateDate))
	assert.False(t, UpdateDate.Before(UpdateDate))
	assert.False(t, Date{2024, time.January, 1}.Before(UpdateDate))
	assert.True(t, Date{2022, time.December, 31}.Before(UpdateDate))
}
