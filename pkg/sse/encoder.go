package sse

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Event is a single event-stream message. Only Data is required.
type Event struct {
	Type  string
	ID    string
	Retry int // milliseconds; 0 omits the field
	Data  any // string, []byte, or a JSON-encodable value
}

// FormatEvent renders ev in wire format, terminated by a blank line.
// Multi-line data is split across several data: fields.
func FormatEvent(ev Event) (string, error) {
	var sb strings.Builder

	if ev.Type != "" {
		if strings.ContainsAny(ev.Type, "\r\n") {
			return "", ErrInvalidField
		}
		sb.WriteString(fieldEvent)
		sb.WriteString(ev.Type)
		sb.WriteByte('\n')
	}
	if ev.ID != "" {
		if strings.ContainsAny(ev.ID, "\r\n") {
			return "", ErrInvalidField
		}
		sb.WriteString(fieldID)
		sb.WriteString(ev.ID)
		sb.WriteByte('\n')
	}
	if ev.Retry > 0 {
		sb.WriteString(fieldRetry)
		sb.WriteString(strconv.Itoa(ev.Retry))
		sb.WriteByte('\n')
	}

	data, err := formatData(ev.Data)
	if err != nil {
		return "", err
	}
	if len(data) > MaxEventDataSize {
		return "", ErrEventTooLarge
	}
	writeData(&sb, data)

	sb.WriteByte('\n')
	return sb.String(), nil
}

// FormatData is the common case: a single event carrying data only,
// "data: <payload>\n\n".
func FormatData(payload string) string {
	var sb strings.Builder
	writeData(&sb, payload)
	sb.WriteByte('\n')
	return sb.String()
}

// FormatComment formats a comment block. Clients ignore comments, which
// makes them suitable as keepalives.
func FormatComment(comment string) string {
	var sb strings.Builder
	for _, line := range splitLines(comment) {
		sb.WriteString(fieldComment)
		sb.WriteByte(' ')
		sb.WriteString(line)
		sb.WriteByte('\n')
	}
	sb.WriteByte('\n')
	return sb.String()
}

func writeData(sb *strings.Builder, data string) {
	for _, line := range splitLines(data) {
		sb.WriteString(fieldData)
		sb.WriteByte(' ')
		sb.WriteString(line)
		sb.WriteByte('\n')
	}
}

// splitLines accepts \n, \r\n and \r as line terminators.
func splitLines(s string) []string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	return strings.Split(s, "\n")
}

func formatData(data any) (string, error) {
	switch v := data.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("marshal event data: %w", err)
		}
		return string(b), nil
	}
}
