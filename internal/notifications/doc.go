// Package notifications delivers run outcomes to operators.
//
// Failures, optional completions, and the daily report are published to an
// ntfy topic and/or a Slack incoming webhook configured in config.toml. With
// neither configured the service is a no-op, so the pipeline never needs to
// check whether notifications are enabled.
package notifications
