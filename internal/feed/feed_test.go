package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/STTM-NSU/simtrade/internal/config"
	"github.com/STTM-NSU/simtrade/internal/logger"
	"github.com/STTM-NSU/simtrade/internal/model"
	"github.com/STTM-NSU/simtrade/internal/storage/memory"
)

func day(d int) time.Time {
	return time.Date(2024, time.July, d, 0, 0, 0, 0, time.UTC)
}

func TestClientBars(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("symbol") != "XYZ" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"message":"unknown symbol"}`))
			return
		}
		assert.Equal(t, "/bars", r.URL.Path)
		assert.Equal(t, "2024-07-01", r.URL.Query().Get("from"))
		assert.Equal(t, "5000", r.URL.Query().Get("limit"))
		_, _ = w.Write([]byte(`[
			{"date":"2024-07-01","open":50,"high":52,"low":49,"close":51,"volume":1000},
			{"date":"2024-07-02","open":51,"high":53,"low":50,"close":52,"volume":1200}
		]`))
	}))
	defer srv.Close()

	cfg := config.FeedConfig{BaseURL: srv.URL}
	cfg.Setup()
	c := NewClient(cfg, logger.NewNopLogger())
	defer c.Close()

	bars, err := c.Bars(context.Background(), "XYZ", day(1), time.Time{})
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, model.DayBar{Symbol: "XYZ", Date: day(2), Open: 51, High: 53, Low: 50, Close: 52, Volume: 1200}, bars[1])

	_, err = c.Bars(context.Background(), "ABC", day(1), time.Time{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown symbol")

	_, err = c.Bars(context.Background(), "XYZ", day(3), day(1))
	require.Error(t, err)
}

const _csv = `Date,Open,High,Low,Close,Adj Close,Volume
2024-07-01,50,52,49,51,50.5,1000
2024-07-02,null,null,null,null,null,null
2024-07-03,52,54,51,53,52.5,1300
`

func TestReadCSV(t *testing.T) {
	bars, err := ReadCSV(strings.NewReader(_csv), "XYZ")
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, model.DayBar{Symbol: "XYZ", Date: day(1), Open: 50, High: 52, Low: 49, Close: 51, Volume: 1000}, bars[0])
	assert.Equal(t, day(3), bars[1].Date)
}

func TestReadCSVRejects(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{name: "empty", data: ""},
		{name: "missing column", data: "Date,Open,High,Low,Close\n2024-07-01,1,1,1,1\n"},
		{name: "bad date", data: "date,open,high,low,close,volume\n07/01/2024,1,1,1,1,1\n"},
		{name: "bad number", data: "date,open,high,low,close,volume\n2024-07-01,x,1,1,1,1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadCSV(strings.NewReader(tt.data), "XYZ")
			assert.ErrorIs(t, err, ErrBadCSV)
		})
	}
}

func TestLoaderStopsAtExistingBar(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	require.NoError(t, s.InsertSimBar(ctx, model.DayBar{Symbol: "XYZ", Date: day(2), Close: 99}))

	bars := []model.DayBar{
		{Symbol: "XYZ", Date: day(1), Close: 1},
		{Symbol: "XYZ", Date: day(2), Close: 2},
		{Symbol: "XYZ", Date: day(3), Close: 3},
		{Symbol: "XYZ", Date: day(4), Close: 4},
		{Symbol: "ABC", Date: day(1), Close: 10},
	}
	n, err := NewLoader(s, SimHistory, logger.NewNopLogger()).Load(ctx, bars)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	got, err := s.SimBars(ctx, "XYZ", day(10), 0)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []float64{4, 3, 99}, []float64{got[0].Close, got[1].Close, got[2].Close})

	ok, err := s.HasSimBar(ctx, "ABC", day(1))
	require.NoError(t, err)
	assert.True(t, ok)

	n, err = NewLoader(s, DayHistory, logger.NewNopLogger()).Load(ctx, bars)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	dayBars, err := s.DayBars(ctx, "XYZ", day(10), 0)
	require.NoError(t, err)
	assert.Len(t, dayBars, 4)
}
