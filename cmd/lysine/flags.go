package main

import "time"

// RunFlags decouples cobra from the run logic for testing.
type RunFlags struct {
	ConfigPath    string
	MaxAge        uint64 // seconds
	GraceTime     uint64 // seconds
	PollInterval  time.Duration
	KillTree      bool
	LogLevel      string
	LogFormat     string
	LogFile       string
	Color         bool
	MetricsListen string
	History       string
}

// flagKeys maps command line flags onto configuration keys.
var flagKeys = map[string]string{
	"max-age":        "max_age",
	"grace-time":     "grace_time",
	"poll-interval":  "poll_interval",
	"kill-tree":      "kill_tree",
	"log-level":      "log.level",
	"log-format":     "log.format",
	"log-file":       "log.file.path",
	"color":          "log.color",
	"metrics-listen": "metrics.listen",
	"history":        "history.dsn",
}
