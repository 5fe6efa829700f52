package notification

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// publishNote は作成済みの通知をそのまま配信し、配信できた数を返す。
func publishNote(h *Hub, n Notification) int {
	_, delivered, _ := h.Publish(func() (Notification, error) { return n, nil })
	return delivered
}

// fixedCount は常にnを返す集計関数を作る。
func fixedCount(n int) func() (int, error) {
	return func() (int, error) { return n, nil }
}

// drain はセッションのキューに溜まった通知IDを取り出す。
func drain(s *Session) []string {
	var ids []string
	for {
		select {
		case env := <-s.Events():
			if env.Type == EnvelopeNotification {
				ids = append(ids, env.Notification.ID)
			}
		default:
			return ids
		}
	}
}

func TestHub_Publish(t *testing.T) {
	t.Parallel()

	t.Run("接続中の全セッションへ公開順に配信すること", func(t *testing.T) {
		t.Parallel()
		hub := NewHub(16)

		a, err := hub.Connect()
		require.NoError(t, err)
		b, err := hub.Connect()
		require.NoError(t, err)

		for i := range 3 {
			assert.Equal(t, 2, publishNote(hub, Notification{ID: fmt.Sprintf("n%d", i)}))
		}

		want := []string{"n0", "n1", "n2"}
		assert.Equal(t, want, drain(a))
		assert.Equal(t, want, drain(b))
		assert.Equal(t, 3, a.UnreadCount())
	})

	t.Run("接続前に公開された通知は受け取らないこと", func(t *testing.T) {
		t.Parallel()
		hub := NewHub(16)

		early, err := hub.Connect()
		require.NoError(t, err)
		publishNote(hub, Notification{ID: "before"})

		late, err := hub.Connect()
		require.NoError(t, err)
		publishNote(hub, Notification{ID: "after"})

		assert.Equal(t, []string{"before", "after"}, drain(early))
		assert.Equal(t, []string{"after"}, drain(late))
	})

	t.Run("切断したセッションには配信しないこと", func(t *testing.T) {
		t.Parallel()
		hub := NewHub(16)

		s, err := hub.Connect()
		require.NoError(t, err)
		s.Close()
		s.Close()

		assert.Zero(t, hub.SessionCount())
		assert.Zero(t, publishNote(hub, Notification{ID: "x"}))
		assert.Empty(t, drain(s))

		select {
		case <-s.Done():
		default:
			t.Fatal("Done が閉じられていない")
		}
	})

	t.Run("キューが満杯でもブロックせず、取りこぼしを数えること", func(t *testing.T) {
		t.Parallel()
		hub := NewHub(2)

		slow, err := hub.Connect()
		require.NoError(t, err)
		fast, err := hub.Connect()
		require.NoError(t, err)

		done := make(chan struct{})
		go func() {
			defer close(done)
			for i := range 4 {
				publishNote(hub, Notification{ID: fmt.Sprintf("n%d", i)})
				drainOne(fast)
			}
		}()

		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("Publish がブロックした")
		}

		assert.Equal(t, []string{"n0", "n1"}, drain(slow))
		assert.EqualValues(t, 2, slow.Missed())
		assert.Zero(t, fast.Missed())
	})

	t.Run("並行に公開しても全セッションが同じ順序で受け取ること", func(t *testing.T) {
		t.Parallel()
		const publishers, perPublisher = 4, 25
		hub := NewHub(publishers * perPublisher)

		sessions := make([]*Session, 3)
		for i := range sessions {
			s, err := hub.Connect()
			require.NoError(t, err)
			sessions[i] = s
		}

		var wg sync.WaitGroup
		for p := range publishers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := range perPublisher {
					publishNote(hub, Notification{ID: fmt.Sprintf("p%d-%d", p, i)})
				}
			}()
		}
		wg.Wait()

		first := drain(sessions[0])
		require.Len(t, first, publishers*perPublisher)
		for _, s := range sessions[1:] {
			assert.Equal(t, first, drain(s))
		}
	})

	t.Run("配信中も接続と切断をブロックしないこと", func(t *testing.T) {
		t.Parallel()
		hub := NewHub(1024)
		stop := make(chan struct{})

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; ; i++ {
				select {
				case <-stop:
					return
				default:
					publishNote(hub, Notification{ID: fmt.Sprintf("n%d", i)})
				}
			}
		}()

		for range 100 {
			s, err := hub.Connect()
			require.NoError(t, err)
			s.Close()
		}
		close(stop)
		wg.Wait()
		assert.Zero(t, hub.SessionCount())
	})
}

// drainOne はキューから1件だけ取り出す。
func drainOne(s *Session) {
	select {
	case <-s.Events():
	default:
	}
}

func TestHub_PublishUnreadCount(t *testing.T) {
	t.Parallel()
	hub := NewHub(8)

	s, err := hub.Connect()
	require.NoError(t, err)
	n, err := hub.Resync(s, fixedCount(5))
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, 5, s.UnreadCount())

	publishNote(hub, Notification{ID: "n"})
	assert.Equal(t, 6, s.UnreadCount())

	n, err = hub.PublishUnreadCount(fixedCount(0))
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, s.UnreadCount())

	var types []EnvelopeType
	for range 3 {
		types = append(types, (<-s.Events()).Type)
	}
	assert.Equal(t, []EnvelopeType{EnvelopeUnreadCount, EnvelopeNotification, EnvelopeUnreadCount}, types)
}

func TestHub_CreateFailure(t *testing.T) {
	t.Parallel()
	hub := NewHub(8)

	s, err := hub.Connect()
	require.NoError(t, err)

	_, delivered, err := hub.Publish(func() (Notification, error) { return Notification{}, ErrStoreUnavailable })
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.Zero(t, delivered)

	_, err = hub.PublishUnreadCount(func() (int, error) { return 0, ErrStoreUnavailable })
	assert.ErrorIs(t, err, ErrStoreUnavailable)

	_, err = hub.Resync(s, func() (int, error) { return 0, ErrStoreUnavailable })
	assert.ErrorIs(t, err, ErrStoreUnavailable)

	assert.Empty(t, drain(s))
	assert.Zero(t, s.UnreadCount())
}

func TestHub_ResyncFullQueue(t *testing.T) {
	t.Parallel()
	hub := NewHub(1)

	s, err := hub.Connect()
	require.NoError(t, err)
	publishNote(hub, Notification{ID: "n"})

	_, err = hub.Resync(s, fixedCount(1))
	assert.ErrorIs(t, err, ErrDeliveryMissed)
}

func TestHub_Close(t *testing.T) {
	t.Parallel()
	hub := NewHub(8)

	s, err := hub.Connect()
	require.NoError(t, err)

	hub.Close()

	select {
	case <-s.Done():
	default:
		t.Fatal("Close後もセッションが切断されていない")
	}
	assert.Zero(t, hub.SessionCount())

	_, err = hub.Connect()
	assert.ErrorIs(t, err, ErrHubClosed)

	s.Close()
}
