package simulator

import (
	"fmt"
	"math"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kilianp07/driverlink/core/model"
)

const earthRadiusMeters = 6371000.0

// Route is a closed loop of waypoints the simulated device drives along.
type Route []model.LocationRef

// DefaultRoute circles a few blocks of central Paris.
var DefaultRoute = Route{
	{Latitude: 48.8566, Longitude: 2.3522},
	{Latitude: 48.8606, Longitude: 2.3376},
	{Latitude: 48.8650, Longitude: 2.3210},
	{Latitude: 48.8584, Longitude: 2.2945},
	{Latitude: 48.8530, Longitude: 2.3499},
}

type waypoint struct {
	Lat  float64 `yaml:"lat"`
	Lng  float64 `yaml:"lng"`
	Name string  `yaml:"name"`
}

// LoadRoute reads a YAML list of {lat, lng, name} waypoints.
func LoadRoute(path string) (Route, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var wps []waypoint
	if err := yaml.Unmarshal(data, &wps); err != nil {
		return nil, fmt.Errorf("parse route: %w", err)
	}
	if len(wps) < 2 {
		return nil, fmt.Errorf("route needs at least 2 waypoints, got %d", len(wps))
	}
	r := make(Route, len(wps))
	for i, w := range wps {
		r[i] = model.LocationRef{Latitude: w.Lat, Longitude: w.Lng, Address: w.Name}
	}
	return r, nil
}

// Length returns the loop length in meters, closing leg included.
func (r Route) Length() float64 {
	var total float64
	for i := range r {
		total += distance(r[i], r[(i+1)%len(r)])
	}
	return total
}

// At returns the sample reached after driving for elapsed at speedKmh from the
// first waypoint. The route wraps around.
func (r Route) At(elapsed time.Duration, speedKmh float64) model.PositionSample {
	if len(r) == 0 {
		return model.PositionSample{}
	}
	if len(r) == 1 || speedKmh <= 0 {
		return model.PositionSample{Latitude: r[0].Latitude, Longitude: r[0].Longitude}
	}
	total := r.Length()
	if total == 0 {
		return model.PositionSample{Latitude: r[0].Latitude, Longitude: r[0].Longitude}
	}
	travelled := math.Mod(speedKmh/3.6*elapsed.Seconds(), total)
	for i := range r {
		from, to := r[i], r[(i+1)%len(r)]
		leg := distance(from, to)
		if travelled > leg {
			travelled -= leg
			continue
		}
		f := 0.0
		if leg > 0 {
			f = travelled / leg
		}
		return model.PositionSample{
			Latitude:       from.Latitude + (to.Latitude-from.Latitude)*f,
			Longitude:      from.Longitude + (to.Longitude-from.Longitude)*f,
			HeadingDegrees: bearing(from, to),
			SpeedKmh:       speedKmh,
		}
	}
	last := r[len(r)-1]
	return model.PositionSample{Latitude: last.Latitude, Longitude: last.Longitude, SpeedKmh: speedKmh}
}

// distance is the haversine distance in meters.
func distance(a, b model.LocationRef) float64 {
	lat1, lat2 := rad(a.Latitude), rad(b.Latitude)
	dLat := lat2 - lat1
	dLng := rad(b.Longitude - a.Longitude)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusMeters * math.Asin(math.Sqrt(h))
}

func bearing(a, b model.LocationRef) float64 {
	lat1, lat2 := rad(a.Latitude), rad(b.Latitude)
	dLng := rad(b.Longitude - a.Longitude)
	y := math.Sin(dLng) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLng)
	deg := math.Atan2(y, x) * 180 / math.Pi
	return math.Mod(deg+360, 360)
}

func rad(deg float64) float64 { return deg * math.Pi / 180 }
