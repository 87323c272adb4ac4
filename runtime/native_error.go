package runtime

import (
	"context"
	"fmt"

	"github.com/wippyai/nativebind/abi"
	"github.com/wippyai/nativebind/errors"
)

// nativeErrorSize is the size of the {u32 domain, i32 code, char *message}
// record a throwing function stores through its error out-parameter.
const nativeErrorSize = 12

// NativeError is a failure reported by a native library through its
// error out-parameter.
type NativeError struct {
	Library string
	Symbol  string
	Message string
	Domain  uint32
	Code    int32
}

func (e *NativeError) Error() string {
	return fmt.Sprintf("%s#%s: %s (domain %d, code %d)", e.Library, e.Symbol, e.Message, e.Domain, e.Code)
}

// Is matches native failure errors of the errors package.
func (e *NativeError) Is(target error) bool {
	t, ok := target.(*errors.Error)
	return ok && t.Kind == errors.KindNativeFailure
}

// nativeError reads and releases the error record of a throwing call.
func (c *call) nativeError(ctx context.Context) error {
	for i, a := range c.args {
		if a.Desc.Kind != abi.KindError || c.slots[i] == 0 {
			continue
		}
		mem := c.lib.Memory()
		rec, err := mem.ReadU32(c.slots[i])
		if err != nil {
			return err
		}
		if rec == 0 {
			return nil
		}

		domain, err := mem.ReadU32(rec)
		if err != nil {
			return err
		}
		code, err := mem.ReadU32(rec + 4)
		if err != nil {
			return err
		}
		msgPtr, err := mem.ReadU32(rec + 8)
		if err != nil {
			return err
		}
		msg := ""
		if msgPtr != 0 {
			if msg, err = mem.ReadCString(msgPtr); err != nil {
				return err
			}
		}

		cfg := c.lib.Config()
		if cfg.ErrorFreeSymbol == cfg.FreeSymbol {
			_ = c.lib.Free(ctx, msgPtr)
			_ = c.lib.Free(ctx, rec)
		} else if _, err := c.lib.Call(ctx, cfg.ErrorFreeSymbol, uint64(rec)); err != nil {
			return err
		}

		return &NativeError{
			Library: c.lib.Name(),
			Symbol:  c.symbol,
			Message: msg,
			Domain:  domain,
			Code:    int32(code),
		}
	}
	return nil
}
