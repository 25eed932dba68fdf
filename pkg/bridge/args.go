package bridge

import (
	"fmt"

	"firestige.xyz/otus-dissect/internal/core"
	"firestige.xyz/otus-dissect/pkg/wire"
)

// Args is the positional argument list of one call.
type Args []wire.Value

// Expect checks the argument count.
func (a Args) Expect(name string, n int) error {
	if len(a) != n {
		return fmt.Errorf("%w: %s takes %d arguments, got %d", core.ErrArgumentMismatch, name, n, len(a))
	}
	return nil
}

func (a Args) Str(i int) (string, error) {
	v, ok := a[i].(wire.String)
	if !ok {
		return "", a.mismatch(i, wire.TagString)
	}
	return string(v), nil
}

func (a Args) Bytes(i int) ([]byte, error) {
	v, ok := a[i].(wire.Data)
	if !ok {
		return nil, a.mismatch(i, wire.TagData)
	}
	return v, nil
}

func (a Args) Uint32(i int) (uint32, error) {
	v, ok := a[i].(wire.Uint32)
	if !ok {
		return 0, a.mismatch(i, wire.TagUint32)
	}
	return uint32(v), nil
}

func (a Args) Session(i int) (wire.Session, error) {
	v, ok := a[i].(wire.Session)
	if !ok {
		return wire.Session{}, a.mismatch(i, wire.TagSession)
	}
	return v, nil
}

func (a Args) mismatch(i int, want string) error {
	return fmt.Errorf("%w: argument %d is %s, want %s", core.ErrArgumentMismatch, i, a[i].Tag(), want)
}
