package session

import (
	"testing"
	"time"
)

// FuzzSessionDecode feeds arbitrary bytes to the binary decoder.
// Goal: no panics, graceful error handling.
func FuzzSessionDecode(f *testing.F) {
	rec := &Record{
		UserID:      "user1",
		Version:     "01HZY4N3Q1V3XJ6W5ZK1B2C3D4",
		RefreshHash: [32]byte{1, 2, 3},
		Device:      Device{UserAgent: "fuzz/1.0", IP: "10.0.0.1", Location: "Ha Noi", RememberMe: true},
		Locale:      "vi",
		Timezone:    "Asia/Ho_Chi_Minh",
		CreatedAt:   time.UnixMilli(1700000000000),
		ExpiresAt:   time.UnixMilli(1700003600000),
	}
	encoded, err := Encode(rec)
	if err == nil {
		f.Add(encoded)
	}

	f.Add([]byte{})
	f.Add([]byte{0})
	f.Add([]byte{2})
	f.Add([]byte{255, 255, 255})
	if len(encoded) > 10 {
		f.Add(encoded[:10])
	}
	if len(encoded) > 30 {
		f.Add(encoded[:30])
	}

	f.Fuzz(func(t *testing.T, data []byte) {
		r, err := Decode(data)
		if err != nil {
			return
		}
		if _, err := Encode(r); err != nil {
			t.Fatalf("decoded record failed to re-encode: %v", err)
		}
	})
}
