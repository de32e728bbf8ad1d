package suno

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

const testCookie = "__client=tok_abc123; ajs_anonymous_id=dev-device-id; Secure; Path=/; SameSite=Lax"

// fakeJWT 构造一个带 exp 声明的未签名 JWT
func fakeJWT(t *testing.T, exp time.Time) string {
	t.Helper()
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none","typ":"JWT"}`))
	payload, err := json.Marshal(map[string]any{"exp": exp.Unix()})
	if err != nil {
		t.Fatalf("marshal claims: %v", err)
	}
	return header + "." + base64.RawURLEncoding.EncodeToString(payload) + ".sig"
}

func TestParseCookies(t *testing.T) {
	cookies, err := parseCookies(testCookie)
	if err != nil {
		t.Fatalf("parseCookies failed: %v", err)
	}
	if cookies["__client"] != "tok_abc123" {
		t.Errorf("__client = %q, want tok_abc123", cookies["__client"])
	}
	if cookies["ajs_anonymous_id"] != "dev-device-id" {
		t.Errorf("ajs_anonymous_id = %q", cookies["ajs_anonymous_id"])
	}
	// Set-Cookie 属性不应出现在 jar 里
	for _, attr := range []string{"Secure", "Path", "SameSite"} {
		if _, ok := cookies[attr]; ok {
			t.Errorf("attribute %s leaked into cookie jar", attr)
		}
	}
}

func TestParseCookiesMissingClient(t *testing.T) {
	if _, err := parseCookies("session_id=abc; other=1"); err == nil {
		t.Fatal("expected error for cookie string without __client")
	}
}

func TestMapAudioInfo(t *testing.T) {
	raw := rawClip{
		ID:       "clip-1",
		Title:    "Test Song",
		Status:   "complete",
		AudioURL: "https://cdn/audio.mp3",
		Duration: 0,
		Metadata: json.RawMessage(`{"duration": 185.5, "tags": "rock", "prompt": "line one\n\nline two\n", "error_message": ""}`),
	}
	info := mapAudioInfo(raw)
	if info.Duration != 185.5 {
		t.Errorf("duration = %v, want metadata value 185.5", info.Duration)
	}
	if info.Tags != "rock" {
		t.Errorf("tags = %q", info.Tags)
	}
	if info.Lyric != "line one\nline two" {
		t.Errorf("lyric = %q, empty lines should be stripped", info.Lyric)
	}

	// metadata 没有时长时回退到 clip 自己的字段
	raw.Metadata = json.RawMessage(`{}`)
	raw.Duration = 120
	if got := mapAudioInfo(raw).Duration; got != 120 {
		t.Errorf("fallback duration = %v, want 120", got)
	}
}

// newTestClient 起一个同时扮演 Clerk 和 Suno API 的测试服务
func newTestClient(t *testing.T, apiHandler http.HandlerFunc) (*Client, *httptest.Server, *int) {
	t.Helper()
	tokenCalls := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/client", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "tok_abc123" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		fmt.Fprint(w, `{"response": {"last_active_session_id": "sess_123"}}`)
	})
	mux.HandleFunc("/v1/client/sessions/sess_123/tokens", func(w http.ResponseWriter, r *http.Request) {
		tokenCalls++
		json.NewEncoder(w).Encode(map[string]string{"jwt": fakeJWT(t, time.Now().Add(time.Minute))})
	})
	mux.HandleFunc("/api/", apiHandler)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	client, err := NewClient(testCookie)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	client.SetBaseURL(srv.URL)
	client.SetClerkURL(srv.URL)
	if err := client.Init(context.Background()); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	return client, srv, &tokenCalls
}

func TestInitRunsHandshakeOnce(t *testing.T) {
	sessionCalls, tokenCalls := 0, 0
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/client", func(w http.ResponseWriter, r *http.Request) {
		sessionCalls++
		fmt.Fprint(w, `{"response": {"last_active_session_id": "sess_123"}}`)
	})
	mux.HandleFunc("/v1/client/sessions/sess_123/tokens", func(w http.ResponseWriter, r *http.Request) {
		tokenCalls++
		json.NewEncoder(w).Encode(map[string]string{"jwt": fakeJWT(t, time.Now().Add(time.Minute))})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	client, err := NewClient(testCookie)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	client.SetClerkURL(srv.URL)

	// 每次取客户端都会走 Init，只有第一次应该真正握手
	for i := 0; i < 3; i++ {
		if err := client.Init(context.Background()); err != nil {
			t.Fatalf("Init #%d failed: %v", i+1, err)
		}
	}
	if sessionCalls != 1 {
		t.Errorf("session fetches = %d, want 1", sessionCalls)
	}
	if tokenCalls != 1 {
		t.Errorf("token fetches = %d, want 1", tokenCalls)
	}
}

func TestGetAudioInfoBatching(t *testing.T) {
	var batches []int
	client, _, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		ids := strings.Split(r.URL.Query().Get("ids"), ",")
		batches = append(batches, len(ids))
		clips := make([]rawClip, 0, len(ids))
		for _, id := range ids {
			clips = append(clips, rawClip{ID: id, Status: "queued"})
		}
		json.NewEncoder(w).Encode(map[string]any{"clips": clips})
	})

	ids := make([]string, 45)
	for i := range ids {
		ids[i] = fmt.Sprintf("clip-%02d", i)
	}
	infos, err := client.GetAudioInfo(context.Background(), ids)
	if err != nil {
		t.Fatalf("GetAudioInfo failed: %v", err)
	}
	if len(infos) != 45 {
		t.Fatalf("got %d infos, want 45", len(infos))
	}
	want := []int{20, 20, 5}
	if len(batches) != len(want) {
		t.Fatalf("got %d batches %v, want %v", len(batches), batches, want)
	}
	for i := range want {
		if batches[i] != want[i] {
			t.Errorf("batch %d size = %d, want %d", i, batches[i], want[i])
		}
	}
}

func TestAuthRetryOnce(t *testing.T) {
	calls := 0
	client, _, tokenCalls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"clips": []rawClip{{ID: "x", Status: "queued"}}})
	})

	before := *tokenCalls
	if _, err := client.GetAudioInfo(context.Background(), []string{"x"}); err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if calls != 2 {
		t.Errorf("api called %d times, want 2 (initial + retry)", calls)
	}
	if *tokenCalls != before+1 {
		t.Errorf("token refreshed %d times during retry, want 1", *tokenCalls-before)
	}
}

func TestRateLimited(t *testing.T) {
	client, _, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})
	_, err := client.GetAudioInfo(context.Background(), []string{"x"})
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited", err)
	}
}

func TestWAVFileURLPending(t *testing.T) {
	ready := false
	client, _, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/convert_wav/") {
			w.WriteHeader(http.StatusOK)
			fmt.Fprint(w, `{}`)
			return
		}
		if ready {
			fmt.Fprint(w, `{"url": "https://cdn/file.wav"}`)
		} else {
			fmt.Fprint(w, `{"url": ""}`)
		}
	})

	ctx := context.Background()
	if err := client.RequestWAVConversion(ctx, "clip-1"); err != nil {
		t.Fatalf("RequestWAVConversion failed: %v", err)
	}
	if _, err := client.WAVFileURL(ctx, "clip-1"); !errors.Is(err, ErrWAVPending) {
		t.Fatalf("err = %v, want ErrWAVPending while url is empty", err)
	}
	ready = true
	url, err := client.WAVFileURL(ctx, "clip-1")
	if err != nil {
		t.Fatalf("WAVFileURL failed: %v", err)
	}
	if url != "https://cdn/file.wav" {
		t.Errorf("url = %q", url)
	}
}

func TestTokenExpiryParsing(t *testing.T) {
	exp := time.Now().Add(time.Minute).Truncate(time.Second)
	got := tokenExpiry(fakeJWT(t, exp))
	if !got.Equal(exp) {
		t.Errorf("tokenExpiry = %v, want %v", got, exp)
	}

	// 解析不了的 token 也要给出一个可用的兜底值
	fallback := tokenExpiry("not-a-jwt")
	if time.Until(fallback) <= 0 || time.Until(fallback) > time.Minute {
		t.Errorf("fallback expiry out of range: %v", fallback)
	}
}
