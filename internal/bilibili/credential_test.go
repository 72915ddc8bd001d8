package bilibili

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bilibili-xiayun/bililive-queue/internal/models"
)

func testCredential() *Credential {
	return &Credential{
		Cookies: map[string]string{
			"SESSDATA":   "sess-value",
			"bili_jct":   "csrf-value",
			"buvid3":     "device-id",
			"DedeUserID": "123456",
		},
		UserInfo: &models.UserInfo{Uname: "夏云", UID: 123456, Level: 5},
	}
}

func TestCredentialPlainRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cookies.json")
	if err := NewCredentialStore(path, "").Save(testCredential()); err != nil {
		t.Fatalf("Save: %v", err)
	}

	// Without a secret the file stays readable JSON.
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(raw), "sess-value") {
		t.Error("plain save should leave cookies readable")
	}

	got, err := NewCredentialStore(path, "").Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !got.Valid() || got.UserInfo.Uname != "夏云" {
		t.Errorf("loaded credential = %+v", got)
	}
}

func TestCredentialSealedRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cookies.json")
	if err := NewCredentialStore(path, "hunter2").Save(testCredential()); err != nil {
		t.Fatalf("Save: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(raw), "sess-value") {
		t.Error("sealed file leaks the session cookie")
	}
	var wrapper sealedFile
	if err := json.Unmarshal(raw, &wrapper); err != nil || wrapper.Sealed == "" {
		t.Fatalf("sealed file shape: %s", raw)
	}

	got, err := NewCredentialStore(path, "hunter2").Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Cookies["SESSDATA"] != "sess-value" || got.UID() != 123456 {
		t.Errorf("loaded credential = %+v", got)
	}
}

func TestSealedFileNeedsSecret(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cookies.json")
	if err := NewCredentialStore(path, "hunter2").Save(testCredential()); err != nil {
		t.Fatal(err)
	}

	if _, err := NewCredentialStore(path, "").Load(); !errors.Is(err, ErrCredentialSealed) {
		t.Errorf("load without secret = %v, want ErrCredentialSealed", err)
	}
	if _, err := NewCredentialStore(path, "wrong").Load(); err == nil {
		t.Error("load with wrong secret should fail authentication")
	}
}

func TestSealedCiphertextsDiffer(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.json")
	b := filepath.Join(dir, "b.json")
	if err := NewCredentialStore(a, "hunter2").Save(testCredential()); err != nil {
		t.Fatal(err)
	}
	if err := NewCredentialStore(b, "hunter2").Save(testCredential()); err != nil {
		t.Fatal(err)
	}

	rawA, _ := os.ReadFile(a)
	rawB, _ := os.ReadFile(b)
	if bytes.Equal(rawA, rawB) {
		t.Error("same credential sealed twice produced identical files")
	}
}

func TestTamperedSealRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cookies.json")
	if err := NewCredentialStore(path, "hunter2").Save(testCredential()); err != nil {
		t.Fatal(err)
	}

	raw, _ := os.ReadFile(path)
	var wrapper sealedFile
	if err := json.Unmarshal(raw, &wrapper); err != nil {
		t.Fatal(err)
	}
	blob, err := base64.StdEncoding.DecodeString(wrapper.Sealed)
	if err != nil {
		t.Fatal(err)
	}
	blob[len(blob)-1] ^= 0xFF
	wrapper.Sealed = base64.StdEncoding.EncodeToString(blob)
	out, _ := json.Marshal(wrapper)
	if err := os.WriteFile(path, out, 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := NewCredentialStore(path, "hunter2").Load(); err == nil {
		t.Error("tampered seal should fail to open")
	}
}

func TestTruncatedSealRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cookies.json")
	short := base64.StdEncoding.EncodeToString(make([]byte, 8))
	out, _ := json.Marshal(sealedFile{Sealed: short})
	if err := os.WriteFile(path, out, 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := NewCredentialStore(path, "hunter2").Load(); err == nil {
		t.Error("truncated seal should fail to open")
	}
}

func TestCredentialMissingFile(t *testing.T) {
	s := NewCredentialStore(filepath.Join(t.TempDir(), "absent.json"), "")
	got, err := s.Load()
	if err != nil || got != nil {
		t.Errorf("Load on missing file = (%+v, %v), want (nil, nil)", got, err)
	}
}

func TestCredentialClear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cookies.json")
	s := NewCredentialStore(path, "")
	if err := s.Save(testCredential()); err != nil {
		t.Fatal(err)
	}

	if err := s.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("file survives Clear")
	}
	// Clearing an already-missing file is not an error.
	if err := s.Clear(); err != nil {
		t.Errorf("second Clear: %v", err)
	}
	if got, err := s.Load(); err != nil || got != nil {
		t.Errorf("Load after Clear = (%+v, %v)", got, err)
	}
}

func TestCredentialValid(t *testing.T) {
	var nilCred *Credential
	if nilCred.Valid() {
		t.Error("nil credential reports valid")
	}
	if (&Credential{Cookies: map[string]string{"SESSDATA": "x"}}).Valid() {
		t.Error("missing bili_jct reports valid")
	}
	if !testCredential().Valid() {
		t.Error("full cookie set reports invalid")
	}
}

func TestCredentialUIDFallback(t *testing.T) {
	c := &Credential{Cookies: map[string]string{"DedeUserID": "424242"}}
	if got := c.UID(); got != 424242 {
		t.Errorf("UID() = %d, want the DedeUserID fallback", got)
	}
}
