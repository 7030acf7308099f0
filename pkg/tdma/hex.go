// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tdma

import (
	"encoding/hex"
	"fmt"
)

const hexDigits = "0123456789ABCDEF"

// HexEncode converts binary data to uppercase ASCII hex, two characters per byte.
func HexEncode(src []byte) []byte {
	dst := make([]byte, len(src)*2)
	for i, b := range src {
		dst[i*2] = hexDigits[b>>4]
		dst[i*2+1] = hexDigits[b&0x0F]
	}
	return dst
}

// HexDecode converts ASCII hex (either case) back to binary.
// An odd number of characters is rejected.
func HexDecode(src []byte) ([]byte, error) {
	dst := make([]byte, hex.DecodedLen(len(src)))
	if _, err := hex.Decode(dst, src); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidHex, err)
	}
	return dst, nil
}

func fromHexChar(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	}
	return 0, false
}

// isCanonicalHex reports whether w is a non-empty, even-length run of
// uppercase hex digits, the only form that survives a binary round trip.
func isCanonicalHex(w []byte) bool {
	if len(w) == 0 || len(w)%2 != 0 {
		return false
	}
	for _, c := range w {
		if !(c >= '0' && c <= '9') && !(c >= 'A' && c <= 'F') {
			return false
		}
	}
	return true
}
