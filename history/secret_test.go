package history

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"crosscopy/models"
)

func TestSecretDerivedFieldsWithoutItems(t *testing.T) {
	secret := newDetachedSecret("alpha")

	require.Equal(t, "", secret.LatestID())
	require.True(t, secret.LastModified().IsZero())
	require.True(t, secret.LastModified().Equal(time.Date(1, time.January, 1, 0, 0, 0, 0, time.UTC)))
	require.Equal(t, 0, secret.ListenersCount())
	require.Equal(t, "alpha", secret.String())
}

func TestSecretAddItemKeepsNewestFirst(t *testing.T) {
	secret := newDetachedSecret("alpha")
	older := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	newer := older.Add(time.Hour)

	first := models.NewDataItem("hello", models.Outbound, older)
	first.ID = "1"
	second := models.NewDataItem("world", models.Inbound, newer)
	second.ID = "2"

	secret.AddItem(first)
	secret.AddItem(second)

	require.Equal(t, "2", secret.LatestID())
	require.True(t, secret.LastModified().Equal(newer))

	items := secret.Items()
	require.Len(t, items, 2)
	require.Equal(t, "world", items[0].Data)
	require.Equal(t, "hello", items[1].Data)

	items[0].Data = "mutated"
	require.Equal(t, "world", secret.Items()[0].Data)
}

func TestUnsubscribeInsideHandler(t *testing.T) {
	secret, watcher, _ := newWatchedSecret(t, "alpha", WatchOptions{})

	var onceCalls, alwaysCalls, lateCalls int
	var unsubscribe func()
	unsubscribe = secret.Subscribe(func(*Secret) {
		onceCalls++
		unsubscribe()
		unsubscribe()
	})
	secret.Subscribe(func(s *Secret) {
		alwaysCalls++
		if alwaysCalls == 1 {
			s.Subscribe(func(*Secret) { lateCalls++ })
		}
	})

	watcher.next(t).respond("1")
	watcher.next(t).respond("2")
	watcher.next(t)

	require.Equal(t, 1, onceCalls)
	require.Equal(t, 2, alwaysCalls)
	require.Equal(t, 1, lateCalls)
}

func TestSubscribeNilObserver(t *testing.T) {
	secret := newDetachedSecret("alpha")
	unsubscribe := secret.Subscribe(nil)
	unsubscribe()
	require.Equal(t, 0, secret.observers.len())
}

func TestSecretLatestIDFollowsFrontItem(t *testing.T) {
	secret := newDetachedSecret("alpha")
	item := models.NewDataItem("payload", models.Inbound, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	item.ID = "42"
	secret.AddItem(item)

	require.Equal(t, "42", secret.LatestID())
}
