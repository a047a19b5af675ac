package gateway

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sherkenhoff/openai-telegram-assistant/internal/session"
	"github.com/sherkenhoff/openai-telegram-assistant/internal/store"
)

type fakeRoster struct {
	mu      sync.Mutex
	users   map[int64]*store.User
	ensured []int64
	touched []int64
}

func newFakeRoster(users ...*store.User) *fakeRoster {
	f := &fakeRoster{users: make(map[int64]*store.User)}
	for _, u := range users {
		f.users[u.ChatID] = u
	}
	return f
}

func (f *fakeRoster) GetUser(_ context.Context, chatID int64) (*store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[chatID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return u, nil
}

func (f *fakeRoster) EnsureUser(_ context.Context, chatID int64, firstName, lastName, nickname string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensured = append(f.ensured, chatID)
	f.users[chatID] = &store.User{ChatID: chatID, FirstName: firstName, LastName: lastName, Nickname: nickname}
	return nil
}

func (f *fakeRoster) TouchLastContact(_ context.Context, chatID int64, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.touched = append(f.touched, chatID)
	return nil
}

type fakeSessions struct {
	mu       sync.Mutex
	sessions map[int64]*session.Session
}

func (f *fakeSessions) GetOrCreate(chatID int64, admin bool) (*session.Session, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sessions == nil {
		f.sessions = make(map[int64]*session.Session)
	}
	if sess, ok := f.sessions[chatID]; ok {
		return sess, false
	}
	sess := &session.Session{ChatID: chatID, Queue: make(chan string, 2)}
	sess.SetAdmin(admin)
	f.sessions[chatID] = sess
	return sess, true
}

type fakeTranscriber struct {
	text string
	err  error
	path string
}

func (f *fakeTranscriber) Transcribe(_ context.Context, path string) (string, error) {
	f.path = path
	if f.err != nil {
		return "", f.err
	}
	return f.text, nil
}

type fakeDelivery struct {
	mu    sync.Mutex
	texts []string
}

func (f *fakeDelivery) SendText(_ context.Context, _ int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	return nil
}

func (f *fakeDelivery) SendPhoto(context.Context, int64, string) error        { return nil }
func (f *fakeDelivery) SendVoice(context.Context, int64, string, []byte) error { return nil }

func (f *fakeDelivery) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...)
}

type fakeVoiceFetcher struct{ err error }

func (f *fakeVoiceFetcher) DownloadVoice(_ context.Context, _ string, dest string) error {
	if f.err != nil {
		return f.err
	}
	return os.WriteFile(dest, []byte("ogg"), 0o644)
}

func newDispatcher(t *testing.T, roster *fakeRoster, sessions *fakeSessions, transcriber *fakeTranscriber, delivery *fakeDelivery, voice *fakeVoiceFetcher) *Dispatcher {
	t.Helper()
	return NewDispatcher(roster, sessions, transcriber, delivery, voice, t.TempDir(), nil)
}

func TestHandle_UnknownUserRecordedAndDropped(t *testing.T) {
	roster := newFakeRoster()
	sessions := &fakeSessions{}
	d := newDispatcher(t, roster, sessions, &fakeTranscriber{}, &fakeDelivery{}, &fakeVoiceFetcher{})

	err := d.Handle(context.Background(), &Message{ChatID: 5, Username: "newbie", Text: "hello?"})
	require.NoError(t, err)

	assert.Equal(t, []int64{5}, roster.ensured)
	assert.Equal(t, "newbie", roster.users[5].Nickname)
	assert.False(t, roster.users[5].Allowed)
	assert.Empty(t, sessions.sessions)
}

func TestHandle_UnknownUserWithoutUsername(t *testing.T) {
	roster := newFakeRoster()
	sessions := &fakeSessions{}
	d := newDispatcher(t, roster, sessions, &fakeTranscriber{}, &fakeDelivery{}, &fakeVoiceFetcher{})

	err := d.Handle(context.Background(), &Message{ChatID: 5, FirstName: "Ada", Text: "hi"})
	require.NoError(t, err)

	// No Telegram username: the chat id stands in as the nickname
	assert.Equal(t, "5", roster.users[5].Nickname)
}

func TestHandle_DisallowedUserDropped(t *testing.T) {
	roster := newFakeRoster(&store.User{ChatID: 5, Allowed: false})
	sessions := &fakeSessions{}
	d := newDispatcher(t, roster, sessions, &fakeTranscriber{}, &fakeDelivery{}, &fakeVoiceFetcher{})

	require.NoError(t, d.Handle(context.Background(), &Message{ChatID: 5, Text: "hello?"}))

	assert.Empty(t, roster.ensured)
	assert.Empty(t, roster.touched)
	assert.Empty(t, sessions.sessions)
}

func TestHandle_AllowedTextEnqueued(t *testing.T) {
	roster := newFakeRoster(&store.User{ChatID: 5, Allowed: true, Admin: true})
	sessions := &fakeSessions{}
	d := newDispatcher(t, roster, sessions, &fakeTranscriber{}, &fakeDelivery{}, &fakeVoiceFetcher{})

	require.NoError(t, d.Handle(context.Background(), &Message{ChatID: 5, Text: "hello"}))

	assert.Equal(t, []int64{5}, roster.touched)
	sess := sessions.sessions[5]
	require.NotNil(t, sess)
	assert.True(t, sess.Admin())
	assert.False(t, sess.LastContact().IsZero())
	assert.Equal(t, "hello", <-sess.Queue)
}

func TestHandle_QueueFullApology(t *testing.T) {
	roster := newFakeRoster(&store.User{ChatID: 5, Allowed: true})
	sessions := &fakeSessions{}
	delivery := &fakeDelivery{}
	d := newDispatcher(t, roster, sessions, &fakeTranscriber{}, delivery, &fakeVoiceFetcher{})

	ctx := context.Background()
	require.NoError(t, d.Handle(ctx, &Message{ChatID: 5, Text: "one"}))
	require.NoError(t, d.Handle(ctx, &Message{ChatID: 5, Text: "two"}))
	require.NoError(t, d.Handle(ctx, &Message{ChatID: 5, Text: "three"}))

	assert.Equal(t, []string{queueFullApology}, delivery.sent())
}

func TestHandle_VoiceTranscribedAndEnqueued(t *testing.T) {
	roster := newFakeRoster(&store.User{ChatID: 5, Allowed: true})
	sessions := &fakeSessions{}
	transcriber := &fakeTranscriber{text: "spoken words"}
	d := newDispatcher(t, roster, sessions, transcriber, &fakeDelivery{}, &fakeVoiceFetcher{})

	require.NoError(t, d.Handle(context.Background(), &Message{ChatID: 5, Kind: KindVoice, VoiceFileID: "file-1"}))

	sess := sessions.sessions[5]
	require.NotNil(t, sess)
	select {
	case text := <-sess.Queue:
		assert.Equal(t, "spoken words", text)
	case <-time.After(time.Second):
		t.Fatal("transcription was never enqueued")
	}

	// The downloaded audio is cleaned up after transcription
	require.Eventually(t, func() bool {
		_, err := os.Stat(transcriber.path)
		return os.IsNotExist(err)
	}, time.Second, 10*time.Millisecond)
}

func TestHandle_TranscriptionFailureApology(t *testing.T) {
	roster := newFakeRoster(&store.User{ChatID: 5, Allowed: true})
	sessions := &fakeSessions{}
	delivery := &fakeDelivery{}
	d := newDispatcher(t, roster, sessions, &fakeTranscriber{err: errors.New("bad audio")}, delivery, &fakeVoiceFetcher{})

	require.NoError(t, d.Handle(context.Background(), &Message{ChatID: 5, Kind: KindVoice, VoiceFileID: "file-1"}))

	require.Eventually(t, func() bool {
		return len(delivery.sent()) == 1
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{transcriptionApology}, delivery.sent())
	assert.Empty(t, sessions.sessions[5].Queue)
}

func TestHandle_UnsupportedKindDropped(t *testing.T) {
	roster := newFakeRoster(&store.User{ChatID: 5, Allowed: true})
	sessions := &fakeSessions{}
	d := newDispatcher(t, roster, sessions, &fakeTranscriber{}, &fakeDelivery{}, &fakeVoiceFetcher{})

	require.NoError(t, d.Handle(context.Background(), &Message{ChatID: 5, Kind: KindPhoto}))

	sess := sessions.sessions[5]
	require.NotNil(t, sess)
	assert.Empty(t, sess.Queue)
}
