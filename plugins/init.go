// Package plugins registers all built-in classifiers.
package plugins

import (
	"firestige.xyz/otus-dissect/pkg/plugin"
	"firestige.xyz/otus-dissect/plugins/classifier/sample"
	"firestige.xyz/otus-dissect/plugins/classifier/sip"
)

func init() {
	plugin.RegisterClassifier(sample.Name, sample.New)
	plugin.RegisterClassifier(sip.Name, sip.New)
}
