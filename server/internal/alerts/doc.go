// Package alerts evaluates rules against every received ReportEnvelope and
// notifies Slack, Teams or generic HTTP webhooks when a rule fires or
// resolves. Conditions compare report fields (days_remaining < 7), daily
// statistics (avg_temperature > 70) or the phase label
// (phase == Possible sensor error or overheating). Each rule and pile pair
// fires at most once per cooldown.
package alerts
