package persistence

import (
	"bytes"
	"encoding/gob"
	"fmt"
)

// EncodeRecord serializes an AuditRecord with encoding/gob.
func EncodeRecord(rec AuditRecord) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(rec); err != nil {
		return nil, fmt.Errorf("encode audit record %q: %w", rec.ActionID, err)
	}
	return buf.Bytes(), nil
}

// DecodeRecord is the inverse of EncodeRecord.
func DecodeRecord(data []byte) (AuditRecord, error) {
	var rec AuditRecord
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&rec); err != nil {
		return AuditRecord{}, fmt.Errorf("decode audit record: %w", err)
	}
	return rec, nil
}
