package realtime

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	gtfs "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"

	"github.com/mini-transit-live/server/internal/logger"
)

func sampleFeed(ts uint64) *gtfs.FeedMessage {
	return &gtfs.FeedMessage{
		Header: &gtfs.FeedHeader{
			GtfsRealtimeVersion: proto.String("2.0"),
			Timestamp:           proto.Uint64(ts),
		},
		Entity: []*gtfs.FeedEntity{
			{
				Id: proto.String("v1"),
				Vehicle: &gtfs.VehiclePosition{
					Trip:    &gtfs.TripDescriptor{TripId: proto.String("T1"), RouteId: proto.String("66-1234")},
					Vehicle: &gtfs.VehicleDescriptor{Id: proto.String("BUS1")},
					Position: &gtfs.Position{
						Latitude:  proto.Float32(-27.46977),
						Longitude: proto.Float32(153.02515),
					},
				},
			},
			{
				Id: proto.String("v2"),
				Vehicle: &gtfs.VehiclePosition{
					Trip:     &gtfs.TripDescriptor{TripId: proto.String("T2"), RouteId: proto.String("60")},
					Position: &gtfs.Position{Latitude: proto.Float32(0), Longitude: proto.Float32(0)},
				},
			},
			{
				Id:        proto.String("gone"),
				IsDeleted: proto.Bool(true),
				Vehicle: &gtfs.VehiclePosition{
					Trip: &gtfs.TripDescriptor{TripId: proto.String("T9")},
				},
			},
			{
				Id: proto.String("u1"),
				TripUpdate: &gtfs.TripUpdate{
					Trip: &gtfs.TripDescriptor{TripId: proto.String("T1"), RouteId: proto.String("66-1234")},
					StopTimeUpdate: []*gtfs.TripUpdate_StopTimeUpdate{
						{
							StopSequence: proto.Uint32(4),
							Arrival:      &gtfs.TripUpdate_StopTimeEvent{Delay: proto.Int32(120)},
						},
					},
				},
			},
		},
	}
}

func feedServer(t *testing.T, feed *gtfs.FeedMessage) *httptest.Server {
	t.Helper()
	body, err := proto.Marshal(feed)
	require.NoError(t, err)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-protobuf")
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestClientFetch(t *testing.T) {
	srv := feedServer(t, sampleFeed(1700000000))
	c := NewClient([]string{srv.URL}, time.Second, logger.Nop())

	batch, err := c.Fetch(context.Background())
	require.NoError(t, err)

	assert.Equal(t, time.Unix(1700000000, 0).UTC(), batch.Timestamp)
	require.Len(t, batch.Positions, 2)
	require.Len(t, batch.Delays, 1)

	p := batch.Positions[0]
	assert.Equal(t, "T1", p.TripID)
	assert.Equal(t, "BUS1", p.VehicleID)
	require.NotNil(t, p.Latitude)
	assert.Equal(t, -27.46977, *p.Latitude)
	assert.Equal(t, 153.02515, *p.Longitude)

	// 0,0 means no fix
	assert.Nil(t, batch.Positions[1].Latitude)

	d := batch.Delays[0]
	require.Len(t, d.StopTimeUpdates, 1)
	assert.Equal(t, uint32(4), *d.StopTimeUpdates[0].StopSequence)
	assert.Equal(t, 120, *d.StopTimeUpdates[0].ArrivalDelay)
	assert.Nil(t, d.StopTimeUpdates[0].DepartureDelay)
}

func TestClientFetch_MultipleFeeds(t *testing.T) {
	a := feedServer(t, sampleFeed(1700000000))
	b := feedServer(t, sampleFeed(1700000500))
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer broken.Close()

	c := NewClient([]string{a.URL, broken.URL, b.URL}, time.Second, logger.Nop())
	batch, err := c.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, time.Unix(1700000500, 0).UTC(), batch.Timestamp)
	assert.Len(t, batch.Positions, 4)
}

func TestClientFetch_Errors(t *testing.T) {
	garbage := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte{0xff, 0xff, 0xff})
	}))
	defer garbage.Close()
	status := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer status.Close()

	tests := []struct {
		name string
		urls []string
	}{
		{"no urls", nil},
		{"bad status", []string{status.URL}},
		{"not protobuf", []string{garbage.URL}},
		{"all failing", []string{status.URL, garbage.URL}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := NewClient(tc.urls, time.Second, logger.Nop())
			batch, err := c.Fetch(context.Background())
			assert.Nil(t, batch)
			var fe *FetchError
			require.True(t, errors.As(err, &fe), "got %v", err)
		})
	}
}

func TestFloat32ToFloat64(t *testing.T) {
	assert.Equal(t, 153.02515, float32ToFloat64(153.02515))
	assert.Equal(t, -27.5, float32ToFloat64(-27.5))
}
