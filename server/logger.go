package main

import (
	"context"
	"encoding/json"
	"flag"
	"io"
	"log"

	jlog "github.com/luno/jettison/log"
)

var logJSON = flag.Bool("log_json", true, "write logs as one JSON object per line")

type JSONLogger struct {
	*log.Logger
}

func (l *JSONLogger) Log(_ context.Context, log jlog.Entry) string {
	res, err := json.Marshal(log)
	if err != nil {
		l.Logger.Printf("jlogger: failed to marshal log: %v", err)
		l.Logger.Print(log.Message)
		return log.Message
	}
	l.Logger.Print(string(res))
	return string(res)
}

// InitLogging installs the JSON logger unless plain logs were asked for,
// in which case jettison's default logger stays in place.
func InitLogging(w io.Writer) {
	if !*logJSON {
		return
	}
	jlog.SetLogger(&JSONLogger{Logger: log.New(w, "", 0)})
}
