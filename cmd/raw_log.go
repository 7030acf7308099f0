// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/tdmalink/pkg/tdma"
)

var rawLogEncoding string

var rawLogCmd = &cobra.Command{
	Use:   "raw_log",
	Short: "Display the coordinator host stream one message per line",
	Long: `Read the host side of a coordinator and print every '$' terminated message
as it arrives, with a timestamp.

With --encoding hex each message is decoded from the coordinator's hex host
encoding first. Lost packet notices ("missing packet <n>") are highlighted.

Supports both serial and WebSocket connections.`,
	RunE: runRawLog,
}

func init() {
	rootCmd.AddCommand(rawLogCmd)
	rawLogCmd.Flags().StringVar(&rawLogEncoding, "encoding", "raw", "Host encoding of the stream (raw or hex)")
}

func runRawLog(cmd *cobra.Command, args []string) error {
	enc, err := tdma.ParseHostEncoding(rawLogEncoding)
	if err != nil {
		return err
	}
	if enc == tdma.EncodingCompact {
		return errors.New("compact streams carry no message boundaries, use raw or hex")
	}

	conn, connInfo, err := OpenHostLink(false)
	if err != nil {
		return err
	}
	defer conn.Close()

	fmt.Printf("TDMA Link - Raw Host Log\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	scanner := newMessageScanner(conn)
	for scanner.Scan() {
		fmt.Print(formatHostMessage(time.Now(), scanner.Bytes(), enc))
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, ErrLinkClosed) {
		return fmt.Errorf("read error: %w", err)
	}
	logger.Info().Msg("connection closed")
	return nil
}

// newMessageScanner splits a host stream after each terminator. A final
// unterminated message is returned at EOF.
func newMessageScanner(r io.Reader) *bufio.Scanner {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 256), 64*1024)
	s.Split(func(data []byte, atEOF bool) (int, []byte, error) {
		if i := bytes.IndexByte(data, tdma.HostTerminator); i >= 0 {
			return i + 1, data[:i+1], nil
		}
		if atEOF && len(data) > 0 {
			return len(data), data, nil
		}
		return 0, nil, nil
	})
	return s
}

// splitLost separates "missing packet <n> " notices from the front of msg
func splitLost(msg []byte) (lost []int, rest []byte) {
	const prefix = "missing packet "
	for bytes.HasPrefix(msg, []byte(prefix)) {
		body := msg[len(prefix):]
		end := bytes.IndexByte(body, ' ')
		if end < 0 {
			break
		}
		n, err := strconv.Atoi(string(body[:end]))
		if err != nil {
			break
		}
		lost = append(lost, n)
		msg = body[end+1:]
	}
	return lost, msg
}

// formatHostMessage renders one message
func formatHostMessage(ts time.Time, msg []byte, enc tdma.HostEncoding) string {
	stamp := ts.Format("15:04:05.000")
	lost, msg := splitLost(msg)

	var out string
	for _, n := range lost {
		out += fmt.Sprintf("[%s] \033[1;31mLOST:\033[0m packet %d\n", stamp, n)
	}
	if len(msg) == 0 {
		return out
	}

	body := bytes.TrimSuffix(msg, []byte{tdma.HostTerminator})
	if enc == tdma.EncodingHex {
		decoded, err := tdma.HexDecode(body)
		if err != nil {
			return out + fmt.Sprintf("[%s] \033[1;33mUNDECODED:\033[0m %q (%v)\n", stamp, body, err)
		}
		body = decoded
	}
	terminated := bytes.HasSuffix(msg, []byte{tdma.HostTerminator})
	if !terminated {
		return out + fmt.Sprintf("[%s] %q (unterminated)\n", stamp, body)
	}
	return out + fmt.Sprintf("[%s] %q\n", stamp, body)
}
