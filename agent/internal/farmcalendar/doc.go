// Package farmcalendar talks to the farm calendar service and its
// gatekeeper.
//
// Gatekeeper logs in with username/password and caches the returned access
// token for a configured TTL; it is also the TokenSource of the weather
// client. Client posts daily-statistic observations to a compost operation
// and can look up the operation of a pile by name.
package farmcalendar
