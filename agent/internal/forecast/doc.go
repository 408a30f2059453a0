// Package forecast reads the next 24 hours of weather for a pile location
// from the linked-data forecast5 endpoint of the weather service.
//
// The response is a JSON-LD document whose @graph items carry a
// phenomenonTime and a list of hasMember observations. Ambient temperature,
// ambient humidity and precipitation amount are extracted, restricted to
// [at, at+24h] and sorted by time, yielding a compute.Forecast.
package forecast
