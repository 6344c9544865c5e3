package session

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"
)

const (
	sessionFormatVersionCurrent = 2
	sessionFormatVersionV1      = 1

	maxFieldLen = 1<<16 - 1
)

// CurrentSchemaVersion is the schema byte written by Encode.
const CurrentSchemaVersion = sessionFormatVersionCurrent

// Encode serializes r into the compact binary record format.
//
// Layout (v2): version byte, then length-prefixed (uint16) UserID, Version,
// UserAgent, IP, Location, Locale, Timezone, a flags byte, the 32-byte
// refresh hash, and CreatedAt/ExpiresAt as big-endian unix milliseconds.
func Encode(r *Record) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(sessionFormatVersionCurrent)

	for _, field := range []struct {
		name  string
		value string
	}{
		{"userID", r.UserID},
		{"version", r.Version},
		{"userAgent", r.Device.UserAgent},
		{"ip", r.Device.IP},
		{"location", r.Device.Location},
		{"locale", r.Locale},
		{"timezone", r.Timezone},
	} {
		if err := writeString(&buf, field.value); err != nil {
			return nil, fmt.Errorf("%s: %w", field.name, err)
		}
	}

	var flags byte
	if r.Device.RememberMe {
		flags |= 1
	}
	buf.WriteByte(flags)
	buf.Write(r.RefreshHash[:])

	if err := binary.Write(&buf, binary.BigEndian, r.CreatedAt.UnixMilli()); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, r.ExpiresAt.UnixMilli()); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// Decode parses a record written by Encode. v1 blobs (written before device
// location and the flags byte existed) are upgraded in memory.
func Decode(data []byte) (*Record, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != sessionFormatVersionCurrent && version != sessionFormatVersionV1 {
		return nil, fmt.Errorf("unsupported session schema version %d", version)
	}

	r := &Record{SchemaVersion: CurrentSchemaVersion}

	targets := []*string{&r.UserID, &r.Version, &r.Device.UserAgent, &r.Device.IP}
	if version >= 2 {
		targets = append(targets, &r.Device.Location)
	}
	targets = append(targets, &r.Locale, &r.Timezone)
	for _, target := range targets {
		if *target, err = readString(reader); err != nil {
			return nil, err
		}
	}

	if version >= 2 {
		flags, err := reader.ReadByte()
		if err != nil {
			return nil, err
		}
		r.Device.RememberMe = flags&1 != 0
	}

	if _, err := io.ReadFull(reader, r.RefreshHash[:]); err != nil {
		return nil, err
	}

	var createdMs, expiresMs int64
	if err := binary.Read(reader, binary.BigEndian, &createdMs); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &expiresMs); err != nil {
		return nil, err
	}
	r.CreatedAt = time.UnixMilli(createdMs).UTC()
	r.ExpiresAt = time.UnixMilli(expiresMs).UTC()

	if reader.Len() != 0 {
		return nil, errors.New("trailing bytes in session record")
	}

	return r, nil
}

func writeString(buf *bytes.Buffer, s string) error {
	if len(s) > maxFieldLen {
		return errors.New("field too long")
	}
	var n [2]byte
	binary.BigEndian.PutUint16(n[:], uint16(len(s)))
	buf.Write(n[:])
	buf.WriteString(s)
	return nil
}

func readString(reader *bytes.Reader) (string, error) {
	var n uint16
	if err := binary.Read(reader, binary.BigEndian, &n); err != nil {
		return "", err
	}
	if int(n) > reader.Len() {
		return "", io.ErrUnexpectedEOF
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(reader, b); err != nil {
		return "", err
	}
	return string(b), nil
}
