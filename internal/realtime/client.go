package realtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	gtfs "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/proto"

	"github.com/mini-transit-live/server/internal/logger"
)

// Client reads one or more GTFS-RT endpoints (a combined feed, or separate
// vehicle position and trip update feeds) into a single Batch.
type Client struct {
	urls   []string
	client *http.Client
	log    logger.Logger
}

// NewClient creates a GTFS-RT client with a per-request timeout
func NewClient(urls []string, timeout time.Duration, log logger.Logger) *Client {
	return &Client{
		urls: urls,
		client: &http.Client{
			Timeout: timeout,
		},
		log: log.With("feed-client"),
	}
}

// Fetch reads every configured feed. A single failing feed is logged and
// skipped; the call fails only when no feed could be read.
func (c *Client) Fetch(ctx context.Context) (*Batch, error) {
	if len(c.urls) == 0 {
		return nil, &FetchError{Cause: errors.New("no feed URLs configured")}
	}

	batch := &Batch{}
	var firstErr error
	read := 0
	for _, url := range c.urls {
		feed, err := c.fetchFeed(ctx, url)
		if err != nil {
			if firstErr == nil {
				firstErr = &FetchError{URL: url, Cause: err}
			}
			c.log.Warn("feed read failed", "url", url, "error", err)
			continue
		}
		read++
		decodeInto(batch, feed)
	}
	if read == 0 {
		return nil, firstErr
	}
	return batch, nil
}

// fetchFeed downloads and decodes a GTFS-RT protobuf feed
func (c *Client) fetchFeed(ctx context.Context, url string) (*gtfs.FeedMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/x-protobuf")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	feed := &gtfs.FeedMessage{}
	if err := proto.Unmarshal(body, feed); err != nil {
		return nil, fmt.Errorf("failed to parse protobuf: %w", err)
	}

	return feed, nil
}

// decodeInto appends the position and trip update entities of feed to batch.
// The batch timestamp is the newest header timestamp seen.
func decodeInto(batch *Batch, feed *gtfs.FeedMessage) {
	if ts := feed.GetHeader().GetTimestamp(); ts > 0 {
		t := time.Unix(int64(ts), 0).UTC()
		if t.After(batch.Timestamp) {
			batch.Timestamp = t
		}
	}

	for _, entity := range feed.GetEntity() {
		if entity.GetIsDeleted() {
			continue
		}
		if vp := entity.GetVehicle(); vp != nil {
			batch.Positions = append(batch.Positions, decodePosition(entity.GetId(), vp))
		}
		if tu := entity.GetTripUpdate(); tu != nil {
			batch.Delays = append(batch.Delays, decodeTripUpdate(entity.GetId(), tu))
		}
	}
}

func decodePosition(entityID string, vp *gtfs.VehiclePosition) PositionUpdate {
	pos := PositionUpdate{
		EntityID:  entityID,
		VehicleID: vp.GetVehicle().GetId(),
		TripID:    vp.GetTrip().GetTripId(),
		RouteID:   vp.GetTrip().GetRouteId(),
	}
	// 0,0 is what feeds emit for "no fix"
	if p := vp.GetPosition(); p != nil && p.GetLatitude() != 0 && p.GetLongitude() != 0 {
		lat := float32ToFloat64(p.GetLatitude())
		lng := float32ToFloat64(p.GetLongitude())
		pos.Latitude = &lat
		pos.Longitude = &lng
	}
	return pos
}

func decodeTripUpdate(entityID string, tu *gtfs.TripUpdate) DelayUpdate {
	du := DelayUpdate{
		EntityID: entityID,
		TripID:   tu.GetTrip().GetTripId(),
		RouteID:  tu.GetTrip().GetRouteId(),
	}
	for _, stu := range tu.GetStopTimeUpdate() {
		u := StopTimeUpdate{}
		if stu.StopSequence != nil {
			seq := stu.GetStopSequence()
			u.StopSequence = &seq
		}
		if stu.GetArrival() != nil && stu.GetArrival().Delay != nil {
			d := int(stu.GetArrival().GetDelay())
			u.ArrivalDelay = &d
		}
		if stu.GetDeparture() != nil && stu.GetDeparture().Delay != nil {
			d := int(stu.GetDeparture().GetDelay())
			u.DepartureDelay = &d
		}
		du.StopTimeUpdates = append(du.StopTimeUpdates, u)
	}
	return du
}

// float32ToFloat64 widens through the shortest decimal form so a feed value
// of 153.02515 stays 153.02515 rather than 153.0251464...
func float32ToFloat64(f float32) float64 {
	v, err := strconv.ParseFloat(strconv.FormatFloat(float64(f), 'f', -1, 32), 64)
	if err != nil {
		return float64(f)
	}
	return v
}
