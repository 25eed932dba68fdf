package bridge

import (
	"io"

	"firestige.xyz/otus-dissect/internal/log"
	"firestige.xyz/otus-dissect/pkg/plugin"
	"firestige.xyz/otus-dissect/pkg/wire"
)

// Options configures a Bridge.
type Options struct {
	Limits     wire.Limits
	BufferSize int
	// Enabled lists the classifiers to serve; empty or "*" serves all.
	Enabled    []string
	RenderHTML bool
	Logger     log.Logger
}

// Bridge owns everything one plugin process needs: the channel, the host
// stub, the classifier engine and the dispatcher wired to it.
type Bridge struct {
	Channel    *wire.Channel
	Host       *Host
	Engine     *plugin.Engine
	Dispatcher *Dispatcher

	logger log.Logger
}

// New builds a bridge reading callbacks from in and writing to out.
func New(in io.Reader, out io.Writer, opts Options) *Bridge {
	logger := opts.Logger
	if logger == nil {
		logger = log.GetLogger()
	}
	ch := wire.NewChannel(in, out, opts.Limits, opts.BufferSize)
	host := NewHost(ch)
	b := &Bridge{
		Channel: ch,
		Host:    host,
		Engine: plugin.NewEngine(host,
			plugin.WithEnabled(opts.Enabled),
			plugin.WithLogger(logger),
			plugin.WithHTMLRender(opts.RenderHTML)),
		Dispatcher: NewDispatcher(ch),
		logger:     logger,
	}
	b.Dispatcher.SetLogger(logger)
	b.bind()
	return b
}

func (b *Bridge) bind() {
	d := b.Dispatcher
	d.Handle(CallbackRegister, ResultNone, b.onRegister)
	d.Handle(CallbackDefine, ResultNone, b.onDefine)
	d.Handle(CallbackClassify, ResultNone, b.onClassify)
	d.Handle(CallbackParse, ResultNone, b.onParse)
	d.Handle(CallbackFree, ResultNone, b.onFree)
	d.Handle(CallbackDecode, ResultOne, b.onDecode)
}

// Run serves callbacks until the host closes the channel.
func (b *Bridge) Run() error {
	b.logger.WithField("classifiers", b.Engine.Classifiers()).Info("dissector bridge serving")
	err := b.Dispatcher.Run()
	b.logger.WithField("served", b.Dispatcher.Served()).Info("dissector bridge stopped")
	return err
}

// ReportFatal tries to tell the host why the plugin is about to exit. The
// channel may already be unusable, so failures are only logged locally.
func (b *Bridge) ReportFatal(err error) {
	b.logger.WithError(err).Error("dissector bridge failed")
	if logErr := b.Host.Log("dissector plugin failed: " + err.Error()); logErr != nil {
		b.logger.WithError(logErr).Debug("could not report failure to host")
	}
}

func (b *Bridge) onRegister(args Args) (wire.Value, error) {
	if err := args.Expect(CallbackRegister, 0); err != nil {
		return nil, err
	}
	return nil, b.Engine.Register()
}

func (b *Bridge) onDefine(args Args) (wire.Value, error) {
	if err := args.Expect(CallbackDefine, 0); err != nil {
		return nil, err
	}
	return nil, b.Engine.Define()
}

func (b *Bridge) onClassify(args Args) (wire.Value, error) {
	if err := args.Expect(CallbackClassify, 4); err != nil {
		return nil, err
	}
	name, err := args.Str(0)
	if err != nil {
		return nil, err
	}
	sess, err := args.Session(1)
	if err != nil {
		return nil, err
	}
	data, err := args.Bytes(2)
	if err != nil {
		return nil, err
	}
	dir, err := args.Uint32(3)
	if err != nil {
		return nil, err
	}
	return nil, b.Engine.Classify(name, sess, data, plugin.Direction(dir))
}

func (b *Bridge) onParse(args Args) (wire.Value, error) {
	if err := args.Expect(CallbackParse, 4); err != nil {
		return nil, err
	}
	name, err := args.Str(0)
	if err != nil {
		return nil, err
	}
	handle, err := args.Uint32(1)
	if err != nil {
		return nil, err
	}
	data, err := args.Bytes(2)
	if err != nil {
		return nil, err
	}
	dir, err := args.Uint32(3)
	if err != nil {
		return nil, err
	}
	return nil, b.Engine.Parse(name, handle, data, plugin.Direction(dir))
}

func (b *Bridge) onFree(args Args) (wire.Value, error) {
	if err := args.Expect(CallbackFree, 2); err != nil {
		return nil, err
	}
	name, err := args.Str(0)
	if err != nil {
		return nil, err
	}
	handle, err := args.Uint32(1)
	if err != nil {
		return nil, err
	}
	return nil, b.Engine.Free(name, handle)
}

func (b *Bridge) onDecode(args Args) (wire.Value, error) {
	if err := args.Expect(CallbackDecode, 4); err != nil {
		return nil, err
	}
	name, err := args.Str(0)
	if err != nil {
		return nil, err
	}
	data, err := args.Bytes(1)
	if err != nil {
		return nil, err
	}
	dir, err := args.Uint32(2)
	if err != nil {
		return nil, err
	}
	decoder, err := args.Str(3)
	if err != nil {
		return nil, err
	}
	r, err := b.Engine.Decode(name, data, plugin.Direction(dir), decoder)
	if err != nil {
		return nil, err
	}
	return r, nil
}
