package transport

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
)

// MaxMessageSize bounds a single framed message.
const MaxMessageSize = 16 << 20

var ErrMessageTooLarge = errors.New("message too large")

// ListenUnix listens on socketPath, replacing a stale socket file.
func ListenUnix(socketPath string) (net.Listener, error) {
	if err := os.Remove(socketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("remove stale socket: %w", err)
	}
	return net.Listen("unix", socketPath)
}

// Serve accepts connections on l and runs handler for each until l is
// closed.
func Serve(l net.Listener, handler func(net.Conn)) error {
	for {
		conn, err := l.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		go handler(conn)
	}
}

// HandleConn returns a connection handler that answers framed requests
// with serve until the peer closes the connection.
func HandleConn(serve ServeFunc, logger *slog.Logger) func(net.Conn) {
	return func(conn net.Conn) {
		defer conn.Close()
		reader := bufio.NewReader(conn)
		for {
			msg, err := ReadMessage(reader)
			if err != nil {
				if !errors.Is(err, io.EOF) {
					logger.Warn("error reading", "error", err)
				}
				return
			}

			resp, err := serve(context.Background(), msg)
			if err != nil {
				logger.Warn("handler error", "error", err)
				return
			}

			if err := WriteMessage(conn, resp); err != nil {
				logger.Warn("error writing", "error", err)
				return
			}
		}
	}
}

// Simple framing helpers: a 4 byte big endian length, then the payload.
func ReadMessage(r io.Reader) ([]byte, error) {
	lengthBytes := make([]byte, 4)
	if _, err := io.ReadFull(r, lengthBytes); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(lengthBytes)
	if length > MaxMessageSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, length)
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}
	return data, nil
}

func WriteMessage(w io.Writer, data []byte) error {
	if len(data) > MaxMessageSize {
		return fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, len(data))
	}
	length := make([]byte, 4)
	binary.BigEndian.PutUint32(length, uint32(len(data)))
	if _, err := w.Write(length); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}
