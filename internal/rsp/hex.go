package rsp

import (
	"encoding/hex"
	"fmt"
)

// HexEncodeString renders s (its raw UTF-8 bytes) as lowercase ASCII-hex,
// two digits per byte — the encoding RSP uses for vFile/vSpectranext paths
// and qRcmd shell commands.
func HexEncodeString(s string) []byte {
	return []byte(hex.EncodeToString([]byte(s)))
}

// HexEncodeBytes renders b as lowercase ASCII-hex.
func HexEncodeBytes(b []byte) []byte {
	return []byte(hex.EncodeToString(b))
}

// HexDecodeString reverses HexEncodeString. An odd-length input is
// malformed and reported as an error rather than silently truncated.
func HexDecodeString(h []byte) (string, error) {
	if len(h)%2 != 0 {
		return "", fmt.Errorf("rsp: odd-length hex string")
	}
	b, err := hex.DecodeString(string(h))
	if err != nil {
		return "", fmt.Errorf("rsp: malformed hex: %w", err)
	}
	return string(b), nil
}

// HexDecodeBytes reverses HexEncodeBytes.
func HexDecodeBytes(h []byte) ([]byte, error) {
	if len(h)%2 != 0 {
		return nil, fmt.Errorf("rsp: odd-length hex payload")
	}
	b, err := hex.DecodeString(string(h))
	if err != nil {
		return nil, fmt.Errorf("rsp: malformed hex: %w", err)
	}
	return b, nil
}

// HexEncodeUint renders v as lowercase hex digits with no "0x" prefix and
// no leading zero padding, the form RSP uses for bare numeric arguments.
func HexEncodeUint(v uint64) []byte {
	return []byte(fmt.Sprintf("%x", v))
}

// HexDecodeUint parses a bare (no "0x") lowercase hex integer, as found in
// fields like "F<fd-hex>" or "PacketSize=<hex>".
func HexDecodeUint(h []byte) (uint64, error) {
	var v uint64
	if _, err := fmt.Sscanf(string(h), "%x", &v); err != nil {
		return 0, fmt.Errorf("rsp: malformed hex integer %q: %w", h, err)
	}
	return v, nil
}
