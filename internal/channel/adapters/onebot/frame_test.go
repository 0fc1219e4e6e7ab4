package onebot

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeFrame(t *testing.T) {
	t.Parallel()

	frame, err := DecodeFrame([]byte(`{"post_type":"meta_event","meta_event_type":"heartbeat","self_id":10001}`))
	require.NoError(t, err)
	assert.Equal(t, FrameEvent, frame.Kind)
	assert.Equal(t, "meta_event", frame.Event.PostType)
	assert.Equal(t, ID("10001"), frame.Event.SelfID)

	frame, err = DecodeFrame([]byte(`{"status":"ok","retcode":0,"data":{"message_id":5},"echo":7}`))
	require.NoError(t, err)
	assert.Equal(t, FrameResponse, frame.Kind)
	assert.Equal(t, "7", frame.Response.Echo.String())

	frame, err = DecodeFrame([]byte(`{"retcode":1404}`))
	require.NoError(t, err)
	assert.Equal(t, FrameResponse, frame.Kind)
	assert.Equal(t, "", frame.Response.Echo.String())

	_, err = DecodeFrame([]byte(`{"foo":"bar"}`))
	assert.ErrorIs(t, err, ErrDecode)

	_, err = DecodeFrame([]byte(`garbage`))
	assert.ErrorIs(t, err, ErrDecode)
}

func TestActionResponseErr(t *testing.T) {
	t.Parallel()

	assert.NoError(t, ActionResponse{Status: StatusOK}.Err())
	assert.NoError(t, ActionResponse{Status: StatusAsync}.Err())

	err := ActionResponse{Status: StatusFailed, Retcode: 100, Message: "bad", Wording: "user not found"}.errFor("send_private_msg")
	var failed *ActionFailedError
	require.True(t, errors.As(err, &failed))
	assert.Equal(t, 100, failed.Retcode)
	assert.Equal(t, "user not found", failed.Message)
	assert.Contains(t, err.Error(), "send_private_msg")
}

func TestActionResponseDecode(t *testing.T) {
	t.Parallel()

	var info LoginInfo
	require.NoError(t, ActionResponse{Data: []byte(`{"user_id":42,"nickname":"bot"}`)}.Decode(&info))
	assert.Equal(t, ID("42"), info.UserID)
	assert.Equal(t, "bot", info.Nickname)

	assert.Error(t, ActionResponse{}.Decode(&info))
}
