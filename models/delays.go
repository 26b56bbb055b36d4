package models

import (
	"sort"
	"time"

	"github.com/mini-transit-live/server/internal/realtime"
)

// DelayedThresholdSeconds is the lateness above which a vehicle counts as delayed
const DelayedThresholdSeconds = 300

// DelaySummary represents live delay statistics from the current snapshot
type DelaySummary struct {
	TotalVehicles   int     `json:"totalVehicles"`
	DelayedVehicles int     `json:"delayedVehicles"`
	OnTimePercent   float64 `json:"onTimePercent"`
	AvgDelaySeconds float64 `json:"avgDelaySeconds"`
	MaxDelaySeconds int     `json:"maxDelaySeconds"`
	WorstRoute      string  `json:"worstRoute,omitempty"`
}

// DelayHourlyStat represents hourly delay data for a route
type DelayHourlyStat struct {
	Route            string  `json:"route"`
	HourBucket       string  `json:"hourBucket"`
	ObservationCount int     `json:"observationCount"`
	MeanDelaySeconds float64 `json:"meanDelaySeconds"`
	StdDevSeconds    float64 `json:"stdDevSeconds"`
	OnTimePercent    float64 `json:"onTimePercent"`
	MaxDelaySeconds  int     `json:"maxDelaySeconds"`
}

// DelayStatsResponse is the response for GET /api/delays/stats
type DelayStatsResponse struct {
	Summary     DelaySummary      `json:"summary"`
	HourlyStats []DelayHourlyStat `json:"hourlyStats"`
	SnapshotID  string            `json:"snapshotId,omitempty"`
	LastChecked time.Time         `json:"lastChecked"`
}

// SummarizeDelays computes the live summary over vehicles with a known delay,
// optionally restricted to one route.
func SummarizeDelays(vehicles []realtime.VehicleRecord, route string) DelaySummary {
	var summary DelaySummary
	var total int
	byRoute := make(map[string][]int)

	for _, v := range vehicles {
		if v.DelaySeconds == nil || (route != "" && v.Route != route) {
			continue
		}
		d := *v.DelaySeconds
		abs := max(d, -d)
		summary.TotalVehicles++
		total += d
		if abs > DelayedThresholdSeconds {
			summary.DelayedVehicles++
		}
		summary.MaxDelaySeconds = max(summary.MaxDelaySeconds, abs)
		if v.Route != "" {
			byRoute[v.Route] = append(byRoute[v.Route], abs)
		}
	}

	if summary.TotalVehicles == 0 {
		summary.OnTimePercent = 100
		return summary
	}
	summary.AvgDelaySeconds = float64(total) / float64(summary.TotalVehicles)
	summary.OnTimePercent = float64(summary.TotalVehicles-summary.DelayedVehicles) / float64(summary.TotalVehicles) * 100

	routes := make([]string, 0, len(byRoute))
	for r := range byRoute {
		routes = append(routes, r)
	}
	sort.Strings(routes)
	worst := -1.0
	for _, r := range routes {
		sum := 0
		for _, d := range byRoute[r] {
			sum += d
		}
		if avg := float64(sum) / float64(len(byRoute[r])); avg > worst {
			worst = avg
			summary.WorstRoute = r
		}
	}
	return summary
}
