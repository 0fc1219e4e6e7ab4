package onebot

import (
	"context"
	"log/slog"
)

// Transport carries one action to the gateway and returns its response.
type Transport interface {
	Call(ctx context.Context, action string, params any) (ActionResponse, error)
}

// FallbackTransport tries Primary first and Secondary only when Primary could
// not carry the action at all (a TransportError). Timeouts, stops, and remote
// failures propagate unchanged.
type FallbackTransport struct {
	Primary   Transport
	Secondary Transport
	Logger    *slog.Logger
}

// Call implements Transport.
func (f FallbackTransport) Call(ctx context.Context, action string, params any) (ActionResponse, error) {
	var err error
	if f.Primary != nil {
		var resp ActionResponse
		resp, err = f.Primary.Call(ctx, action, params)
		if err == nil || !IsTransportError(err) {
			return resp, err
		}
	} else {
		err = &TransportError{Op: "send", Err: ErrNotConnected}
	}
	if f.Secondary == nil {
		return ActionResponse{}, err
	}
	if h, ok := f.Secondary.(*HTTPTransport); ok && !h.Configured() {
		return ActionResponse{}, err
	}
	if f.Logger != nil {
		f.Logger.Debug("socket unavailable, using http fallback",
			slog.String("action", action),
			slog.Any("error", err),
		)
	}
	return f.Secondary.Call(ctx, action, params)
}

// invoke runs an action and converts a failed status into ActionFailedError.
func invoke(ctx context.Context, t Transport, action string, params any) (ActionResponse, error) {
	resp, err := t.Call(ctx, action, params)
	if err != nil {
		return resp, err
	}
	if err := resp.errFor(action); err != nil {
		return resp, err
	}
	return resp, nil
}
