package jupyter

import (
	"context"
	"fmt"

	"github.com/go-zeromq/zmq4"
)

// transport carries raw multipart frames between the client and a kernel.
type transport interface {
	sendShell(frames [][]byte) error
	recvShell() ([][]byte, error)
	recvIOPub() ([][]byte, error)
	close() error
}

// zmqTransport binds a DEALER to the shell port and a SUB to the iopub port.
type zmqTransport struct {
	cancel context.CancelFunc
	shell  zmq4.Socket
	iopub  zmq4.Socket
}

func dialZMQ(info ConnectionInfo, identity string) (*zmqTransport, error) {
	ctx, cancel := context.WithCancel(context.Background())
	shell := zmq4.NewDealer(ctx, zmq4.WithID(zmq4.SocketIdentity(identity)))
	if err := shell.Dial(info.Endpoint(info.ShellPort)); err != nil {
		cancel()
		return nil, fmt.Errorf("dial shell %s: %w", info.Endpoint(info.ShellPort), err)
	}
	iopub := zmq4.NewSub(ctx)
	if err := iopub.Dial(info.Endpoint(info.IOPubPort)); err != nil {
		_ = shell.Close()
		cancel()
		return nil, fmt.Errorf("dial iopub %s: %w", info.Endpoint(info.IOPubPort), err)
	}
	if err := iopub.SetOption(zmq4.OptionSubscribe, ""); err != nil {
		_ = iopub.Close()
		_ = shell.Close()
		cancel()
		return nil, fmt.Errorf("subscribe iopub: %w", err)
	}
	return &zmqTransport{cancel: cancel, shell: shell, iopub: iopub}, nil
}

func (t *zmqTransport) sendShell(frames [][]byte) error {
	return t.shell.SendMulti(zmq4.NewMsgFrom(frames...))
}

func (t *zmqTransport) recvShell() ([][]byte, error) {
	msg, err := t.shell.Recv()
	if err != nil {
		return nil, err
	}
	return msg.Frames, nil
}

func (t *zmqTransport) recvIOPub() ([][]byte, error) {
	msg, err := t.iopub.Recv()
	if err != nil {
		return nil, err
	}
	return msg.Frames, nil
}

func (t *zmqTransport) close() error {
	err1 := t.iopub.Close()
	err2 := t.shell.Close()
	t.cancel()
	if err1 != nil {
		return err1
	}
	return err2
}
