package config

import "log"

// LogFlags matches the teacher's log.Logger flag set: date, time, UTC.
const LogFlags = log.Ldate | log.Ltime | log.LUTC
