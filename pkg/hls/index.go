package hls

import (
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// MalformedIndexError signals a playlist that cannot be parsed at all.
type MalformedIndexError struct {
	Reason string
}

func (e *MalformedIndexError) Error() string {
	return "malformed index: " + e.Reason
}

// UnsupportedDirectiveError signals a playlist feature the recorder
// cannot handle. Unlike unknown tags this is fatal for the feed.
type UnsupportedDirectiveError struct {
	Directive string
}

func (e *UnsupportedDirectiveError) Error() string {
	return e.Directive + " not supported"
}

// Media is an EXT-X-MEDIA entry from a master playlist.
type Media struct {
	URI    string
	Params map[string]string
	Source string // the raw playlist line
}

// Stream is an EXT-X-STREAM-INF entry from a master playlist.
type Stream struct {
	URI    string
	Params map[string]string
	Source string
}

// Index is a parsed M3U8 playlist: media segments for a media playlist,
// streams/media for a master playlist, plus the metadata the recorder
// cares about.
type Index struct {
	Base           string
	Segments       *SegmentsList
	Media          []Media
	Streams        []Stream
	Unprocessed    []string
	Metadata       map[string]string
	Type           string // EXT-X-PLAYLIST-TYPE, if any
	Complete       bool
	TargetDuration float64
	Sequence       int64 // EXT-X-MEDIA-SEQUENCE, 0 when absent
	DateTime       time.Time
}

// Parse decodes an M3U8 playlist. base, when non-empty, is used to
// resolve relative segment and stream URLs. Unknown tags are collected
// in Unprocessed; directives the recorder cannot honor return an
// UnsupportedDirectiveError.
func Parse(body []byte, base string) (*Index, error) {
	var lines []string
	for _, line := range strings.Split(string(body), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) == 0 {
		return nil, &MalformedIndexError{Reason: "empty file"}
	}
	if strings.TrimLeft(lines[0], "# ") != "EXTM3U" {
		return nil, &MalformedIndexError{Reason: "unknown index format, EXTM3U signature not found"}
	}

	index := &Index{
		Base:     base,
		Segments: NewSegmentsList(),
		Metadata: map[string]string{},
	}

	pos := 1
	next := func() (string, bool) {
		if pos >= len(lines) {
			return "", false
		}
		line := lines[pos]
		pos++
		return line, true
	}

	var dt time.Time
	var sourceSeq int64

	for {
		line, ok := next()
		if !ok {
			break
		}
		if !strings.HasPrefix(line, "#") {
			slog.Warn("unexpected line in playlist", "line", line)
			index.Unprocessed = append(index.Unprocessed, line)
			continue
		}
		directive := strings.TrimLeft(line, "# ")
		key, value, _ := strings.Cut(directive, ":")
		switch key {
		case "EXTINF":
			durStr, _, _ := strings.Cut(value, ",")
			duration, err := strconv.ParseFloat(strings.TrimSpace(durStr), 64)
			if err != nil {
				return nil, &MalformedIndexError{Reason: fmt.Sprintf("bad EXTINF duration %q", durStr)}
			}
			rawURL, ok := next()
			if !ok {
				return nil, &MalformedIndexError{Reason: "unexpected end of file, last line was: " + line}
			}
			seg := NewSegment(rawURL, ResolveURL(base, rawURL), duration, dt, sourceSeq)
			index.Segments.Append(seg)
			sourceSeq++
			if !dt.IsZero() {
				dt = dt.Add(SecondsToDuration(duration))
			}
		case "EXT-X-STREAM-INF":
			params, err := ParseAttrList(value)
			if err != nil {
				return nil, &MalformedIndexError{Reason: err.Error()}
			}
			uri, ok := next()
			if !ok {
				return nil, &MalformedIndexError{Reason: "unexpected end of file, last line was: " + line}
			}
			index.Streams = append(index.Streams, Stream{URI: ResolveURL(base, uri), Params: params, Source: line})
		case "EXT-X-MEDIA":
			params, err := ParseAttrList(value)
			if err != nil {
				return nil, &MalformedIndexError{Reason: err.Error()}
			}
			index.Media = append(index.Media, Media{URI: params["URI"], Params: params, Source: line})
		case "EXT-X-VERSION":
			index.Metadata[key] = value
		case "EXT-X-MEDIA-SEQUENCE":
			n, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return nil, &MalformedIndexError{Reason: fmt.Sprintf("bad media sequence %q", value)}
			}
			index.Sequence = n
			sourceSeq = n
		case "EXT-X-PLAYLIST-TYPE":
			index.Type = value
		case "EXT-X-TARGETDURATION":
			d, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return nil, &MalformedIndexError{Reason: fmt.Sprintf("bad target duration %q", value)}
			}
			index.TargetDuration = d
			index.Metadata[key] = value
		case "EXT-X-ENDLIST":
			index.Segments.Append(TagSourceEnd)
			index.Complete = true
		case "EXT-X-PROGRAM-DATE-TIME":
			t, err := ParseISO8601(value)
			if err != nil {
				return nil, &MalformedIndexError{Reason: fmt.Sprintf("bad program date-time %q", value)}
			}
			dt = t
			index.DateTime = t
		case "EXT-X-DISCONTINUITY":
			index.Segments.Append(TagSourceDiscontinuity)
		case "EXT-X-I-FRAMES-ONLY":
			return nil, &UnsupportedDirectiveError{Directive: "I-Frame playlist"}
		case "EXT-X-I-FRAME-STREAM-INF":
			return nil, &UnsupportedDirectiveError{Directive: "I-Frame stream info"}
		case "EXT-X-MAP":
			return nil, &UnsupportedDirectiveError{Directive: "EXT-X-MAP"}
		case "EXT-X-BYTERANGE":
			return nil, &UnsupportedDirectiveError{Directive: "byte-range"}
		case "EXT-X-ALLOW-CACHE":
			// deprecated, ignored
		default:
			slog.Warn("unexpected tag in playlist", "line", line)
			index.Unprocessed = append(index.Unprocessed, line)
		}
	}
	return index, nil
}

// ParseAttrList decodes an HLS attribute list like
// BANDWIDTH=1280000,CODECS="avc1,mp4a" into a map, with quotes stripped
// from values.
func ParseAttrList(value string) (map[string]string, error) {
	parts, err := SplitQuoted(value, ',', '"')
	if err != nil {
		return nil, err
	}
	params := make(map[string]string, len(parts))
	for _, part := range parts {
		k, v, _ := strings.Cut(part, "=")
		params[k] = strings.Trim(v, `"`)
	}
	return params, nil
}

// SplitQuoted splits on sep outside of quoted sections.
func SplitQuoted(s string, sep, quote byte) ([]string, error) {
	var parts []string
	start := 0
	inQuote := false
	for i := 0; i < len(s); i++ {
		switch {
		case inQuote:
			if s[i] == quote {
				inQuote = false
			}
		case s[i] == quote:
			inQuote = true
		case s[i] == sep:
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}
	if inQuote {
		return nil, fmt.Errorf("unmatched quotes in string %s", s)
	}
	return append(parts, s[start:]), nil
}

var iso8601Layouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05.999999999Z0700",
}

// ParseISO8601 parses an EXT-X-PROGRAM-DATE-TIME value and normalizes
// it to UTC. A value without a zone offset is taken as UTC.
func ParseISO8601(s string) (time.Time, error) {
	for _, layout := range iso8601Layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse datetime %q", s)
}

// ResolveURL resolves ref against base and percent-encodes spaces.
// With an empty base, ref is returned as-is apart from space encoding.
func ResolveURL(base, ref string) string {
	resolved := ref
	if base != "" {
		b, errB := url.Parse(base)
		r, errR := url.Parse(strings.ReplaceAll(ref, " ", "%20"))
		if errB == nil && errR == nil {
			return b.ResolveReference(r).String()
		}
	}
	return strings.ReplaceAll(resolved, " ", "%20")
}
