package chat

import "time"

func timeNow() time.Time { return time.Now().UTC() }

func microsToTime(micros int64) time.Time { return time.UnixMicro(micros).UTC() }
