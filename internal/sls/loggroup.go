package sls

import (
	"errors"
	"fmt"
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/tinytelemetry/slsink/internal/model"
)

// Field numbers of the SLS LogGroup protobuf schema:
//
//	message Log      { uint32 Time = 1; repeated Content Contents = 2; fixed32 Time_ns = 4; }
//	message Content  { string Key = 1; string Value = 2; }
//	message LogTag   { string Key = 1; string Value = 2; }
//	message LogGroup { repeated Log Logs = 1; string Reserved = 2; string Topic = 3;
//	                   string Source = 4; repeated LogTag LogTags = 6; }
const (
	fieldGroupLogs    protowire.Number = 1
	fieldGroupTopic   protowire.Number = 3
	fieldGroupSource  protowire.Number = 4
	fieldGroupLogTags protowire.Number = 6

	fieldLogTime     protowire.Number = 1
	fieldLogContents protowire.Number = 2
	fieldLogTimeNs   protowire.Number = 4

	fieldPairKey   protowire.Number = 1
	fieldPairValue protowire.Number = 2
)

// Log is one SLS log entry.
type Log struct {
	Time     time.Time
	Contents []model.Field
}

// LogGroup is the PutLogs request body before compression.
type LogGroup struct {
	Logs   []Log
	Topic  string
	Source string
	Tags   []model.Tag
}

// NewLogGroup builds a log group from formatted records, keeping their order.
func NewLogGroup(records []model.Record, tags model.TagSet, topic, source string) *LogGroup {
	g := &LogGroup{
		Logs:   make([]Log, len(records)),
		Topic:  topic,
		Source: source,
		Tags:   append([]model.Tag(nil), tags.All()...),
	}
	for i, r := range records {
		g.Logs[i] = Log{Time: r.Time, Contents: r.Fields}
	}
	return g
}

func pairSize(key, value string) int {
	return protowire.SizeTag(fieldPairKey) + protowire.SizeBytes(len(key)) +
		protowire.SizeTag(fieldPairValue) + protowire.SizeBytes(len(value))
}

func appendPair(b []byte, num protowire.Number, key, value string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	b = protowire.AppendVarint(b, uint64(pairSize(key, value)))
	b = protowire.AppendTag(b, fieldPairKey, protowire.BytesType)
	b = protowire.AppendString(b, key)
	b = protowire.AppendTag(b, fieldPairValue, protowire.BytesType)
	b = protowire.AppendString(b, value)
	return b
}

func logTime(t time.Time) (sec uint32, nsec uint32) {
	if t.IsZero() {
		t = time.Now()
	}
	return uint32(t.Unix()), uint32(t.Nanosecond())
}

func logSize(l *Log) int {
	sec, _ := logTime(l.Time)
	n := protowire.SizeTag(fieldLogTime) + protowire.SizeVarint(uint64(sec))
	for _, c := range l.Contents {
		n += protowire.SizeTag(fieldLogContents) + protowire.SizeBytes(pairSize(c.Key, c.Value))
	}
	n += protowire.SizeTag(fieldLogTimeNs) + protowire.SizeFixed32()
	return n
}

// Marshal encodes the group in protobuf wire format.
func (g *LogGroup) Marshal() []byte {
	size := 0
	for i := range g.Logs {
		size += protowire.SizeTag(fieldGroupLogs) + protowire.SizeBytes(logSize(&g.Logs[i]))
	}
	b := make([]byte, 0, size+len(g.Topic)+len(g.Source)+64*len(g.Tags)+16)

	for i := range g.Logs {
		l := &g.Logs[i]
		sec, nsec := logTime(l.Time)
		b = protowire.AppendTag(b, fieldGroupLogs, protowire.BytesType)
		b = protowire.AppendVarint(b, uint64(logSize(l)))
		b = protowire.AppendTag(b, fieldLogTime, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(sec))
		for _, c := range l.Contents {
			b = appendPair(b, fieldLogContents, c.Key, c.Value)
		}
		b = protowire.AppendTag(b, fieldLogTimeNs, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, nsec)
	}
	if g.Topic != "" {
		b = protowire.AppendTag(b, fieldGroupTopic, protowire.BytesType)
		b = protowire.AppendString(b, g.Topic)
	}
	if g.Source != "" {
		b = protowire.AppendTag(b, fieldGroupSource, protowire.BytesType)
		b = protowire.AppendString(b, g.Source)
	}
	for _, t := range g.Tags {
		b = appendPair(b, fieldGroupLogTags, t.Key, t.Value)
	}
	return b
}

var errTruncated = errors.New("sls: truncated log group")

// DecodeLogGroup decodes a protobuf LogGroup. Unknown fields are skipped.
func DecodeLogGroup(b []byte) (*LogGroup, error) {
	g := &LogGroup{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]

		switch {
		case num == fieldGroupLogs && typ == protowire.BytesType:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return nil, protowire.ParseError(m)
			}
			l, err := unmarshalLog(v)
			if err != nil {
				return nil, err
			}
			g.Logs = append(g.Logs, l)
			b = b[m:]
		case (num == fieldGroupTopic || num == fieldGroupSource) && typ == protowire.BytesType:
			v, m := protowire.ConsumeString(b)
			if m < 0 {
				return nil, protowire.ParseError(m)
			}
			if num == fieldGroupTopic {
				g.Topic = v
			} else {
				g.Source = v
			}
			b = b[m:]
		case num == fieldGroupLogTags && typ == protowire.BytesType:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return nil, protowire.ParseError(m)
			}
			k, val, err := unmarshalPair(v)
			if err != nil {
				return nil, err
			}
			g.Tags = append(g.Tags, model.Tag{Key: k, Value: val})
			b = b[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return nil, protowire.ParseError(m)
			}
			b = b[m:]
		}
	}
	return g, nil
}

func unmarshalLog(b []byte) (Log, error) {
	var l Log
	var sec, nsec uint32
	haveTime := false
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return l, protowire.ParseError(n)
		}
		b = b[n:]

		switch {
		case num == fieldLogTime && typ == protowire.VarintType:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return l, protowire.ParseError(m)
			}
			sec = uint32(v)
			haveTime = true
			b = b[m:]
		case num == fieldLogContents && typ == protowire.BytesType:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return l, protowire.ParseError(m)
			}
			k, val, err := unmarshalPair(v)
			if err != nil {
				return l, err
			}
			l.Contents = append(l.Contents, model.Field{Key: k, Value: val})
			b = b[m:]
		case num == fieldLogTimeNs && typ == protowire.Fixed32Type:
			v, m := protowire.ConsumeFixed32(b)
			if m < 0 {
				return l, protowire.ParseError(m)
			}
			nsec = v
			b = b[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return l, protowire.ParseError(m)
			}
			b = b[m:]
		}
	}
	if !haveTime {
		return l, fmt.Errorf("%w: log without time", errTruncated)
	}
	l.Time = time.Unix(int64(sec), int64(nsec))
	return l, nil
}

func unmarshalPair(b []byte) (key, value string, err error) {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return "", "", protowire.ParseError(n)
		}
		b = b[n:]
		if typ != protowire.BytesType || (num != fieldPairKey && num != fieldPairValue) {
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return "", "", protowire.ParseError(m)
			}
			b = b[m:]
			continue
		}
		v, m := protowire.ConsumeString(b)
		if m < 0 {
			return "", "", protowire.ParseError(m)
		}
		if num == fieldPairKey {
			key = v
		} else {
			value = v
		}
		b = b[m:]
	}
	return key, value, nil
}
