// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package monitor

import (
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/ianaindex"

	"github.com/ibprovider/firebird/errors"
)

// systemEncoding resolves the engine's system charset by IANA name. An empty
// name means the system charset already is UTF-8.
func systemEncoding(name string) (encoding.Encoding, error) {
	if name == "" {
		return nil, nil
	}
	enc, err := ianaindex.IANA.Encoding(name)
	if err != nil {
		return nil, errors.Wrapf(err, "unknown system charset %q", name)
	}
	if enc == nil {
		return nil, errors.Errorf("unknown system charset %q", name)
	}
	return enc, nil
}

// systemToUTF8 transliterates a system-charset string to UTF-8. Dump field
// payloads are always UTF-8 on the wire.
func (m *Monitor) systemToUTF8(s string) []byte {
	if m.sysEncoding == nil {
		return []byte(s)
	}
	out, err := m.sysEncoding.NewDecoder().Bytes([]byte(s))
	if err != nil {
		// Undecodable bytes pass through unchanged.
		return []byte(s)
	}
	return out
}

// SystemToUTF8 transliterates an engine string for callers outside the
// package, the snapshot assembler among them.
func (m *Monitor) SystemToUTF8(s string) []byte {
	return m.systemToUTF8(s)
}
