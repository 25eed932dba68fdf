// Package bridge implements both RPC directions of the dissector channel: the
// Host stub the plugin uses to call the capture engine, and the Dispatcher
// that serves the engine's callbacks.
package bridge

// Callbacks the host invokes on the plugin.
const (
	CallbackRegister = "register"
	CallbackDefine   = "define"
	CallbackClassify = "classify"
	CallbackParse    = "parse"
	CallbackFree     = "free"
	CallbackDecode   = "decode"
)

// ReturnName closes every callback.
const ReturnName = "return"

// Operations the plugin invokes on the host.
const (
	OpLog                    = "log"
	OpDebug                  = "debug"
	OpRegisterTCPClassifier  = "registerTcpClassifier"
	OpRegisterUDPClassifier  = "registerUdpClassifier"
	OpRegisterPortClassifier = "registerPortClassifier"
	OpRegisterParser         = "registerParser"
	OpUnregisterParser       = "unregisterParser"
	OpAddProtocolTag         = "addProtocolTag"
	OpAddSessionTag          = "addSessionTag"
	OpHasProtocol            = "hasProtocol"
	OpDefineField            = "defineField"
	OpAddStringField         = "addStringField"
	OpAddIntField            = "addIntField"
	OpAddIPField             = "addIpField"
	OpRenderToHTML           = "renderToHtml"
)

// OpReturnsValue reports whether a host operation answers with one value.
func OpReturnsValue(op string) bool {
	switch op {
	case OpRegisterParser, OpDefineField, OpRenderToHTML, OpHasProtocol:
		return true
	}
	return false
}
