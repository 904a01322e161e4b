package main

import (
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"neopilot/logger"
)

// Client relays Neovim's stdio to the daemon socket
type Client struct {
	socketPath string
}

func NewClient() *Client {
	return &Client{
		socketPath: runtimePath("neopilot.sock"),
	}
}

func (c *Client) Connect() error {
	// Connect to daemon
	conn, err := net.Dial("unix", c.socketPath)
	if err != nil {
		return err
	}
	defer conn.Close()

	// Relay between stdin/stdout and socket
	go func() {
		io.Copy(conn, os.Stdin)
		conn.Close()
	}()

	_, err = io.Copy(os.Stdout, conn)
	return err
}

func (c *Client) EnsureDaemonRunning() error {
	running, pid := isDaemonRunning()
	if running {
		logger.Debug("daemon already running with PID %d", pid)
		return nil
	}

	return c.startDaemon()
}

func (c *Client) startDaemon() error {
	logger.Debug("starting daemon...")

	execPath, err := os.Executable()
	if err != nil {
		return err
	}

	// Start the daemon process detached from our stdio, which carries RPC traffic
	_, err = os.StartProcess(execPath, []string{execPath, "--daemon"}, &os.ProcAttr{
		Env:   os.Environ(),
		Files: []*os.File{nil, nil, nil},
	})
	if err != nil {
		return err
	}

	// Wait for daemon to start
	return c.waitForDaemon()
}

// waitForDaemon polls for the PID file, which the daemon writes once it listens
func (c *Client) waitForDaemon() error {
	for range 50 { // Wait up to 5 seconds
		if running, _ := isDaemonRunning(); running {
			logger.Debug("daemon started successfully")
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("daemon failed to start within timeout")
}
