package bridge_test

import (
	"bytes"
	"encoding/json"
	"fitsedit/internal/bridge"
	"math/rand"
	"testing"
)

func TestCodec(t *testing.T) {
	t.Run("FullByteRange", func(t *testing.T) {
		all := make([]byte, 256)
		for i := range all {
			all[i] = byte(i)
		}
		got, err := bridge.DecodeBytes(bridge.EncodeBytes(all))
		if err != nil {
			t.Fatalf("DecodeBytes failed: %v", err)
		}
		if !bytes.Equal(got, all) {
			t.Errorf("Round trip lost bytes")
		}
	})

	t.Run("Random", func(t *testing.T) {
		r := rand.New(rand.NewSource(1))
		for n := 0; n < 64; n++ {
			data := make([]byte, r.Intn(4096))
			r.Read(data)
			got, err := bridge.DecodeBytes(bridge.EncodeBytes(data))
			if err != nil {
				t.Fatalf("DecodeBytes failed: %v", err)
			}
			if !bytes.Equal(got, data) {
				t.Fatalf("Round trip mismatch for %d bytes", len(data))
			}
		}
	})

	t.Run("JSONSafe", func(t *testing.T) {
		data := []byte{0x00, 0x22, 0x5c, 0xff, 0xfe, 0x0a}
		wire, err := json.Marshal(bridge.InitBody{Value: bridge.EncodeBytes(data)})
		if err != nil {
			t.Fatalf("Marshal failed: %v", err)
		}
		var back bridge.InitBody
		if err := json.Unmarshal(wire, &back); err != nil {
			t.Fatalf("Unmarshal failed: %v", err)
		}
		got, _ := bridge.DecodeBytes(back.Value)
		if !bytes.Equal(got, data) {
			t.Errorf("Expected %v, got %v", data, got)
		}
	})

	t.Run("DecodeBody", func(t *testing.T) {
		for _, body := range []string{"", "null", `""`} {
			got, err := bridge.DecodeBody(json.RawMessage(body))
			if err != nil {
				t.Errorf("DecodeBody(%q) failed: %v", body, err)
			}
			if got == nil || len(got) != 0 {
				t.Errorf("DecodeBody(%q) = %v, want empty", body, got)
			}
		}
		if _, err := bridge.DecodeBody(json.RawMessage(`[1,2]`)); err == nil {
			t.Error("Expected error for non-string body")
		}
		if _, err := bridge.DecodeBytes("***"); err == nil {
			t.Error("Expected error for invalid base64")
		}
	})
}
