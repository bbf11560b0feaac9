package jupyter

import (
	"context"
	"fmt"

	"github.com/go-zeromq/zmq4"
	"github.com/google/uuid"
)

// RequestShutdown asks the kernel behind info to terminate through its
// control channel and waits for the reply until ctx is done. The kernel may
// exit before replying, so a context deadline after a successful send is not
// an error for callers that kill the process afterwards anyway.
func RequestShutdown(ctx context.Context, info ConnectionInfo, restart bool) error {
	if err := checkScheme(info.SignatureScheme); err != nil {
		return err
	}
	session := uuid.NewString()
	sctx, cancel := context.WithCancel(ctx)
	defer cancel()
	sock := zmq4.NewDealer(sctx, zmq4.WithID(zmq4.SocketIdentity(session)))
	defer sock.Close()
	if err := sock.Dial(info.Endpoint(info.ControlPort)); err != nil {
		return fmt.Errorf("dial control %s: %w", info.Endpoint(info.ControlPort), err)
	}
	sig := signer{key: []byte(info.Key)}
	m, err := newMessage(session, MsgShutdownRequest, shutdownRequest{Restart: restart})
	if err != nil {
		return err
	}
	frames, err := sig.encode(m)
	if err != nil {
		return err
	}
	if err := sock.SendMulti(zmq4.NewMsgFrom(frames...)); err != nil {
		return fmt.Errorf("send shutdown_request: %w", err)
	}
	reply := make(chan error, 1)
	go func() {
		for {
			msg, err := sock.Recv()
			if err != nil {
				reply <- err
				return
			}
			r, err := sig.decode(msg.Frames)
			if err != nil {
				continue
			}
			if r.Type() == MsgShutdownReply && r.ParentID() == m.Header.MsgID {
				reply <- nil
				return
			}
		}
	}()
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
