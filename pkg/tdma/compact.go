// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tdma

import "fmt"

// maxWordBytes is the largest word a one-byte length prefix can describe.
const maxWordBytes = 0xFF

// Compactor converts a terminator-separated list of ASCII hex words into a
// length-prefixed binary form and back. Each word loses its terminator and
// half of its characters.
//
// In strict mode every word must be canonical (uppercase, even length) hex and
// a zero prefix means an empty word. In adaptive mode a zero prefix marks a
// pass-through word: it is followed by a raw length byte and the word bytes
// unchanged.
type Compactor struct {
	Terminator byte
	Adaptive   bool
}

// DefaultCompactor uses the host terminator in adaptive mode
var DefaultCompactor = Compactor{Terminator: HostTerminator, Adaptive: true}

// CompactEncode compacts words with the default compactor
func CompactEncode(words []byte) ([]byte, error) {
	return DefaultCompactor.Encode(words)
}

// CompactDecode expands data with the default compactor
func CompactDecode(data []byte) ([]byte, error) {
	return DefaultCompactor.Decode(data)
}

// Encode compacts a word list. Every word, including the last, must be
// followed by the terminator.
func (c Compactor) Encode(words []byte) ([]byte, error) {
	if len(words) == 0 {
		return []byte{}, nil
	}
	if words[len(words)-1] != c.Terminator {
		return nil, ErrUnterminated
	}

	out := make([]byte, 0, len(words))
	start := 0
	for i, b := range words {
		if b != c.Terminator {
			continue
		}
		word := words[start:i]
		start = i + 1

		if len(word) == 0 && !c.Adaptive {
			out = append(out, 0)
			continue
		}
		if isCanonicalHex(word) && len(word)/2 <= maxWordBytes {
			bin, err := HexDecode(word)
			if err != nil {
				return nil, err
			}
			out = append(out, byte(len(bin)))
			out = append(out, bin...)
			continue
		}
		if !c.Adaptive {
			return nil, fmt.Errorf("%w: %q", ErrMalformedWord, word)
		}
		if len(word) > maxWordBytes {
			return nil, fmt.Errorf("%w: pass-through word of %d bytes", ErrMalformedWord, len(word))
		}
		out = append(out, 0, byte(len(word)))
		out = append(out, word...)
	}
	return out, nil
}

// Decode is the exact inverse of Encode.
func (c Compactor) Decode(data []byte) ([]byte, error) {
	out := make([]byte, 0, len(data)*2)
	for i := 0; i < len(data); {
		n := int(data[i])
		i++
		if n == 0 {
			if !c.Adaptive {
				out = append(out, c.Terminator)
				continue
			}
			if i >= len(data) {
				return nil, ErrTruncated
			}
			raw := int(data[i])
			i++
			if i+raw > len(data) {
				return nil, ErrTruncated
			}
			out = append(out, data[i:i+raw]...)
			out = append(out, c.Terminator)
			i += raw
			continue
		}
		if i+n > len(data) {
			return nil, ErrTruncated
		}
		out = append(out, HexEncode(data[i:i+n])...)
		out = append(out, c.Terminator)
		i += n
	}
	return out, nil
}
