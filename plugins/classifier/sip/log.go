package sip

import (
	gosiplog "github.com/ghettovoice/gosip/log"
	"github.com/sirupsen/logrus"
)

// logAdapter routes gosip's logging into the dissector's logrus entry.
type logAdapter struct {
	entry  *logrus.Entry
	prefix string
	fields gosiplog.Fields
}

func newLogAdapter(entry *logrus.Entry) *logAdapter {
	return &logAdapter{entry: entry.WithField("component", "gosip"), fields: gosiplog.Fields{}}
}

func (la *logAdapter) Fields() gosiplog.Fields { return la.fields }

func (la *logAdapter) WithFields(fields map[string]interface{}) gosiplog.Logger {
	merged := gosiplog.Fields{}
	for k, v := range la.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &logAdapter{entry: la.entry.WithFields(fields), prefix: la.prefix, fields: merged}
}

func (la *logAdapter) Prefix() string { return la.prefix }

func (la *logAdapter) WithPrefix(prefix string) gosiplog.Logger {
	return &logAdapter{entry: la.entry.WithField("prefix", prefix), prefix: prefix, fields: la.fields}
}

func (la *logAdapter) Print(args ...interface{})                 { la.entry.Print(args...) }
func (la *logAdapter) Printf(format string, args ...interface{}) { la.entry.Printf(format, args...) }
func (la *logAdapter) Trace(args ...interface{})                 { la.entry.Trace(args...) }
func (la *logAdapter) Tracef(format string, args ...interface{}) { la.entry.Tracef(format, args...) }
func (la *logAdapter) Debug(args ...interface{})                 { la.entry.Debug(args...) }
func (la *logAdapter) Debugf(format string, args ...interface{}) { la.entry.Debugf(format, args...) }
func (la *logAdapter) Info(args ...interface{})                  { la.entry.Info(args...) }
func (la *logAdapter) Infof(format string, args ...interface{})  { la.entry.Infof(format, args...) }
func (la *logAdapter) Warn(args ...interface{})                  { la.entry.Warn(args...) }
func (la *logAdapter) Warnf(format string, args ...interface{})  { la.entry.Warnf(format, args...) }
func (la *logAdapter) Error(args ...interface{})                 { la.entry.Error(args...) }
func (la *logAdapter) Errorf(format string, args ...interface{}) { la.entry.Errorf(format, args...) }

// gosip never needs to end the process; fatal and panic are demoted to errors.
func (la *logAdapter) Fatal(args ...interface{})                 { la.entry.Error(args...) }
func (la *logAdapter) Fatalf(format string, args ...interface{}) { la.entry.Errorf(format, args...) }
func (la *logAdapter) Panic(args ...interface{})                 { la.entry.Error(args...) }
func (la *logAdapter) Panicf(format string, args ...interface{}) { la.entry.Errorf(format, args...) }

// SetLevel is ignored; the level belongs to the dissector logger.
func (la *logAdapter) SetLevel(level uint32) {}
