package events

import (
	"context"

	"github.com/oriys/beacon/internal/telemetry"
	"github.com/sirupsen/logrus"
)

// LogSink 把遥测记录写成结构化日志，适合本地开发或由日志采集器转发。
type LogSink struct {
	logger *logrus.Logger
	level  logrus.Level
}

// NewLogSink 创建日志后端，记录以 level 级别输出。
func NewLogSink(logger *logrus.Logger, level logrus.Level) *LogSink {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &LogSink{logger: logger, level: level}
}

func (s *LogSink) Track(r telemetry.Record) {
	b := r.Common()
	fields := logrus.Fields{
		"telemetry":                     r.Kind(),
		telemetry.PropOperationID:       b.OperationID,
		telemetry.PropOperationParentID: b.ParentID,
	}
	for k, v := range b.Properties {
		if _, ok := fields[k]; !ok {
			fields["prop."+k] = v
		}
	}

	var msg string
	switch v := r.(type) {
	case *telemetry.Event:
		msg = v.Name
		for k, m := range v.Measurements {
			fields["measurement."+k] = m
		}
	case *telemetry.Metric:
		msg = v.Name
		fields["value"] = v.Value
	case *telemetry.Trace:
		msg = v.Message
		fields["severity"] = v.Severity
	case *telemetry.Dependency:
		msg = v.Name
		fields["target"] = v.Target
		fields["type"] = v.Type
		fields["result_code"] = v.ResultCode
		fields["success"] = v.Success
		fields["duration_ms"] = telemetry.DurationMs(v.Duration)
	case *telemetry.Request:
		msg = v.Name
		fields["url"] = v.URL
		fields["result_code"] = v.ResultCode
		fields["success"] = v.Success
		fields["duration_ms"] = telemetry.DurationMs(v.Duration)
	case *telemetry.Exception:
		msg = v.Message
		fields["severity"] = v.Severity
	}

	s.logger.WithFields(fields).WithTime(b.Timestamp).Log(s.level, msg)
}

// Flush 是空操作，logrus 同步写出。
func (s *LogSink) Flush(context.Context) error { return nil }

func (s *LogSink) Close(context.Context) error { return nil }
