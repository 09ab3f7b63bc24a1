// Package sse streams live document views to HTTP clients as server-sent
// events.
package sse

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

// Event types written by the handler.
const (
	EventSnapshot = "snapshot"
	EventError    = "error"
)

var eventCounter uint64

// Event is one server-sent event.
type Event struct {
	ID      string
	Type    string
	Data    []byte
	RetryMS int
}

func nextEventID(now time.Time) string {
	seq := atomic.AddUint64(&eventCounter, 1)
	return fmt.Sprintf("%013d-%010d", now.UTC().UnixMilli(), seq)
}

func writeComment(w http.ResponseWriter, value string) error {
	_, err := w.Write([]byte(": " + value + "\n\n"))
	return err
}

func writeEvent(w http.ResponseWriter, event Event) error {
	var buffer bytes.Buffer
	if event.ID != "" {
		buffer.WriteString("id: ")
		buffer.WriteString(event.ID)
		buffer.WriteByte('\n')
	}
	if event.Type != "" {
		buffer.WriteString("event: ")
		buffer.WriteString(event.Type)
		buffer.WriteByte('\n')
	}
	if event.RetryMS > 0 {
		buffer.WriteString("retry: ")
		buffer.WriteString(strconv.Itoa(event.RetryMS))
		buffer.WriteByte('\n')
	}
	data := event.Data
	if len(data) == 0 {
		data = []byte("{}")
	}
	for _, line := range strings.Split(string(data), "\n") {
		buffer.WriteString("data: ")
		buffer.WriteString(line)
		buffer.WriteByte('\n')
	}
	buffer.WriteByte('\n')

	_, err := w.Write(buffer.Bytes())
	return err
}
