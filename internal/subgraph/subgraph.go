// Copyright 2022-, Semiotic AI, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package subgraph holds the subgraph deployment identifier type and its
// boundary conversions. A deployment is identified by a 46-character base58
// IPFS hash ("Qm…"); the indexer-agent speaks the equivalent 32-byte hex form.
package subgraph

import (
	"encoding/hex"
	"strings"

	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
)

// ID is a subgraph deployment IPFS hash in its canonical "Qm…" form.
type ID string

// multihashPrefix is the sha2-256/32-byte multihash header that every
// deployment hash carries once base58-decoded.
var multihashPrefix = []byte{0x12, 0x20}

// ParseID validates s as a 46-character base58 deployment hash.
func ParseID(s string) (ID, error) {
	if len(s) != 46 {
		return "", errors.Errorf("subgraph id %q must be 46 characters, got %d", s, len(s))
	}
	if !strings.HasPrefix(s, "Qm") {
		return "", errors.Errorf("subgraph id %q must start with Qm", s)
	}
	raw, err := base58.Decode(s)
	if err != nil {
		return "", errors.Wrapf(err, "subgraph id %q is not valid base58", s)
	}
	if len(raw) != 34 {
		return "", errors.Errorf("subgraph id %q decodes to %d bytes, want 34", s, len(raw))
	}
	return ID(s), nil
}

// Hex returns the 32-byte hex form of the deployment id: the base58 payload
// with the leading multihash prefix dropped, as "0x" + 64 lowercase hex chars.
func (id ID) Hex() (string, error) {
	raw, err := base58.Decode(string(id))
	if err != nil {
		return "", errors.Wrapf(err, "subgraph id %q is not valid base58", string(id))
	}
	if len(raw) != 34 {
		return "", errors.Errorf("subgraph id %q decodes to %d bytes, want 34", string(id), len(raw))
	}
	return "0x" + hex.EncodeToString(raw[2:]), nil
}

// FromHex converts the hex form of a deployment id back to its canonical
// base58 form. The "0x" prefix is optional.
func FromHex(h string) (ID, error) {
	h = strings.TrimPrefix(h, "0x")
	if len(h) != 64 {
		return "", errors.Errorf("hex deployment id must be 64 characters, got %d", len(h))
	}
	payload, err := hex.DecodeString(h)
	if err != nil {
		return "", errors.Wrapf(err, "invalid hex deployment id %q", h)
	}
	raw := append(append([]byte{}, multihashPrefix...), payload...)
	return ID(base58.Encode(raw)), nil
}

func (id ID) String() string {
	return string(id)
}
