// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	packetTestTimeout int
)

var packetTestCmd = &cobra.Command{
	Use:   "packet_test",
	Short: "Test a host link by waiting for one complete message",
	Long: `Wait for a '$' terminated message on the host link until timeout.

This command connects to a serial port or WebSocket and waits for any complete
host message. A link opened mid-message reports the tail of that message.

Exit codes:
  0 - Message received before timeout
  1 - Timeout reached without receiving a message
  2 - Connection error

Useful for checking that a coordinator is forwarding bursts.`,
	RunE: runPacketTest,
}

func init() {
	rootCmd.AddCommand(packetTestCmd)
	packetTestCmd.Flags().IntVar(&packetTestTimeout, "timeout", 10, "Timeout in seconds to wait for a message")
}

func runPacketTest(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenHostLink(false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer conn.Close()

	fmt.Printf("TDMA Link - Packet Test\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Timeout: %d seconds\n", packetTestTimeout)
	fmt.Printf("Waiting for a terminated message...\n\n")

	msgChan := make(chan []byte, 1)
	errChan := make(chan error, 1)

	go func() {
		scanner := newMessageScanner(conn)
		if scanner.Scan() {
			msgChan <- append([]byte(nil), scanner.Bytes()...)
			return
		}
		if err := scanner.Err(); err != nil {
			errChan <- err
			return
		}
		errChan <- fmt.Errorf("connection closed")
	}()

	select {
	case msg := <-msgChan:
		lost, _ := splitLost(msg)
		fmt.Printf("SUCCESS: Received message\n")
		fmt.Printf("  Length: %d bytes\n", len(msg))
		fmt.Printf("  Data: %q\n", msg)
		if len(lost) > 0 {
			fmt.Printf("  Lost packets reported: %v\n", lost)
		}
		os.Exit(0)

	case err := <-errChan:
		fmt.Fprintf(os.Stderr, "Read error: %v\n", err)
		os.Exit(2)

	case <-time.After(time.Duration(packetTestTimeout) * time.Second):
		fmt.Fprintf(os.Stderr, "TIMEOUT: No message received within %d seconds\n", packetTestTimeout)
		os.Exit(1)
	}

	return nil
}
