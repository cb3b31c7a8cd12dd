package station

import (
	"fmt"
	"strings"
)

// Metric identifies one reading published by the weather station feed.
type Metric string

const (
	Humidity           Metric = "Humidity"
	Temperature        Metric = "Temperature"
	Pressure           Metric = "Pressure"
	WindSpeed          Metric = "Wind speed"
	WindGust           Metric = "Wind gust"
	WindDirection      Metric = "Wind direction"
	PrecipitationRate  Metric = "Precipitation rate"
	PrecipitationTotal Metric = "Precipitation total"
	UV                 Metric = "UV"
	SolarRadiation     Metric = "Solar radiation"
)

// Descriptor ties a metric to its display metadata and to the place in the
// feed document where its reading lives.
type Descriptor struct {
	Metric Metric
	Unit   string
	Icon   string

	// Path lists element names below <response><current_weather>.
	Path []string
	// Attr is the attribute on the last element holding the reading.
	Attr string
}

// descriptors is the single source of truth for the supported metrics,
// in display order.
var descriptors = []Descriptor{
	{Metric: Humidity, Unit: "%", Icon: "mdi:water-percent", Path: []string{"humidity"}, Attr: "value"},
	{Metric: Temperature, Unit: "°C", Icon: "mdi:thermometer", Path: []string{"temperature", "current"}, Attr: "value"},
	{Metric: Pressure, Unit: "hPa", Icon: "mdi:gauge", Path: []string{"pressure"}, Attr: "value"},

	{Metric: WindSpeed, Unit: "kph", Icon: "mdi:weather-windy", Path: []string{"wind", "speed"}, Attr: "value"},
	{Metric: WindGust, Unit: "kph", Icon: "mdi:weather-windy", Path: []string{"wind", "gusts"}, Attr: "value"},
	{Metric: WindDirection, Icon: "mdi:compass-outline", Path: []string{"wind", "direction"}, Attr: "value"},

	{Metric: PrecipitationRate, Unit: "mm", Icon: "mdi:weather-pouring", Path: []string{"sky", "precipitation", "rain", "rate"}, Attr: "value"},
	{Metric: PrecipitationTotal, Unit: "mm", Icon: "mdi:weather-pouring", Path: []string{"sky", "precipitation", "rain", "daily_total"}, Attr: "value"},

	{Metric: UV, Icon: "mdi:sunglasses", Path: []string{"uv"}, Attr: "value"},
	{Metric: SolarRadiation, Unit: "W/m2", Icon: "mdi:sunglasses", Path: []string{"solar"}, Attr: "radiation"},
}

// Descriptors returns a copy of the metric table in display order.
func Descriptors() []Descriptor {
	out := make([]Descriptor, len(descriptors))
	for i, d := range descriptors {
		out[i] = d.clone()
	}
	return out
}

// Lookup returns the descriptor for m.
func Lookup(m Metric) (Descriptor, bool) {
	for _, d := range descriptors {
		if d.Metric == m {
			return d.clone(), true
		}
	}
	return Descriptor{}, false
}

// ParseMetric resolves a metric by name, ignoring case and surrounding space.
func ParseMetric(name string) (Metric, error) {
	name = strings.TrimSpace(name)
	for _, d := range descriptors {
		if strings.EqualFold(string(d.Metric), name) {
			return d.Metric, nil
		}
	}
	return "", fmt.Errorf("unknown metric %q", name)
}

func (d Descriptor) clone() Descriptor {
	d.Path = append([]string(nil), d.Path...)
	return d
}
