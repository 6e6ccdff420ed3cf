package signal_test

import (
	"testing"
	"time"

	"github.com/quillworks/quill/internal/domain"
	"github.com/quillworks/quill/internal/infra/signal"
)

func TestHub_DeliversToSubscriber(t *testing.T) {
	hub := signal.NewHub()
	ch, cancel := hub.Subscribe("ada")
	defer cancel()

	want := domain.Celebration{
		UserID:        "ada",
		Kind:          domain.CelebrationStreakProtected,
		CurrentStreak: 5,
		FreezesUsed:   2,
		At:            time.Now(),
	}
	hub.Emit(want)

	select {
	case got := <-ch:
		if got.Kind != want.Kind || got.FreezesUsed != 2 {
			t.Errorf("unexpected celebration: %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("celebration not delivered")
	}
}

func TestHub_OtherUsersNotDelivered(t *testing.T) {
	hub := signal.NewHub()
	ch, cancel := hub.Subscribe("ada")
	defer cancel()

	hub.Emit(domain.Celebration{UserID: "bob", Kind: domain.CelebrationStreakAdvanced})

	select {
	case got := <-ch:
		t.Errorf("should not receive bob's celebration, got %+v", got)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_EmitWithoutSubscriberDoesNotBlock(t *testing.T) {
	hub := signal.NewHub()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			hub.Emit(domain.Celebration{UserID: "ada", Kind: domain.CelebrationStreakAdvanced})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Emit blocked with no subscriber")
	}
}

func TestHub_FullBufferDropsInsteadOfBlocking(t *testing.T) {
	hub := signal.NewHub()
	_, cancel := hub.Subscribe("ada")
	defer cancel()

	done := make(chan struct{})
	go func() {
		// Far more events than the subscriber buffer holds; nobody reads.
		for i := 0; i < 500; i++ {
			hub.Emit(domain.Celebration{UserID: "ada", Kind: domain.CelebrationStreakAdvanced})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Emit blocked on a full subscriber buffer")
	}
}

func TestHub_CancelReleasesSubscription(t *testing.T) {
	hub := signal.NewHub()
	ch, cancel := hub.Subscribe("ada")
	cancel()

	// Channel closes on cancel.
	if _, ok := <-ch; ok {
		t.Error("channel should be closed after cancel")
	}
	// Emitting afterwards must not panic.
	hub.Emit(domain.Celebration{UserID: "ada", Kind: domain.CelebrationStreakAdvanced})
	// Double-cancel is safe.
	cancel()
}
